//go:build ignore

// Remote fleet runner for local testing.
// Starts an in-memory redis target, a monitor in remote mode and one agent
// process per requested agent, then waits for the monitor to finish.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func main() {
	binary := flag.String("swarm", "./swarm", "path to the swarm binary")
	simulation := flag.String("s", "examples/simulation.yaml", "simulation file")
	scenariosDir := flag.String("scenarios-dir", "examples/scenarios", "scenario module directory")
	agents := flag.Int("n", 2, "number of agent processes")
	port := flag.Int("port", 7070, "monitor port")
	targetURL := flag.String("target-url", "", "target url (default an in-memory redis)")
	output := flag.String("o", "out", "output directory")
	statusInterval := flag.Duration("status-interval", 10*time.Second, "interval for printing process stats")
	flag.Parse()

	fmt.Println("========================================")
	fmt.Println("Swarm Remote Fleet")
	fmt.Println("========================================")
	fmt.Println()

	if *targetURL == "" {
		mr, err := miniredis.Run()
		if err != nil {
			log.Fatal("could not start in-memory target: ", err)
		}
		defer mr.Close()
		*targetURL = "redis://" + mr.Addr() + "/0"
		fmt.Printf("✓ In-memory target: %s\n", *targetURL)
	}

	bin, err := filepath.Abs(*binary)
	if err != nil {
		log.Fatal(err)
	}

	monitorArgs := []string{
		"monitor", "-r",
		"-n", fmt.Sprint(*agents),
		"-s", *simulation,
		"-o", *output,
		"--port", fmt.Sprint(*port),
		"--target-url", *targetURL,
		"--scenarios-dir", *scenariosDir,
	}
	monitor := exec.Command(bin, monitorArgs...)
	monitor.Stdout = os.Stdout
	monitor.Stderr = os.Stderr
	if err := monitor.Start(); err != nil {
		log.Fatal("could not start monitor: ", err)
	}
	fmt.Printf("✓ Monitor started (pid %d)\n", monitor.Process.Pid)

	// give the monitor a moment to bind before agents register
	time.Sleep(500 * time.Millisecond)

	monitorURL := fmt.Sprintf("http://127.0.0.1:%d", *port)
	var fleet []*exec.Cmd
	for i := 0; i < *agents; i++ {
		agent := exec.Command(bin, "agent",
			"--monitor-url", monitorURL,
			"--id", fmt.Sprintf("agent-%d", i+1),
			"--target-url", *targetURL,
			"--scenarios-dir", *scenariosDir,
			"--log-json",
		)
		agent.Stderr = os.Stderr
		if err := agent.Start(); err != nil {
			log.Printf("could not start agent %d: %v", i+1, err)
			continue
		}
		fleet = append(fleet, agent)
	}
	fmt.Printf("✓ %d agent processes started\n", len(fleet))
	fmt.Println()

	stopStatus := make(chan struct{})
	statusDone := make(chan struct{})
	go func() {
		defer close(statusDone)
		ticker := time.NewTicker(*statusInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				var m runtime.MemStats
				runtime.ReadMemStats(&m)
				fmt.Printf("%s\tagents=%d\tgoroutines=%d\tmem=%.2fMB\n",
					time.Now().Format("15:04:05"),
					len(fleet),
					runtime.NumGoroutine(),
					float64(m.Alloc)/1024/1024,
				)
			case <-stopStatus:
				return
			}
		}
	}()

	startTime := time.Now()
	err = monitor.Wait()
	elapsed := time.Since(startTime)

	close(stopStatus)
	<-statusDone

	for _, agent := range fleet {
		_ = agent.Process.Signal(os.Interrupt)
	}
	for _, agent := range fleet {
		_ = agent.Wait()
	}

	fmt.Println()
	fmt.Println("========================================")
	fmt.Printf("Fleet finished in %s\n", elapsed.Round(time.Millisecond))
	fmt.Println("========================================")

	if err != nil {
		fmt.Printf("✗ Run failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Report written to %s\n", filepath.Join(*output, "report.json"))
}
