// Package builtin holds the scenarios that ship with swarm. Apart from sleep
// they all exercise a Redis target.
package builtin

import (
	"github.com/wesleyorama2/swarm/internal/scenario"
)

// Kind names usable from scenario module files.
const (
	KindSleep     = "sleep"
	KindKVSetGet  = "kv_set_get"
	KindInventory = "inventory_reserve"
	KindQueue     = "queue_consume"
)

// Descriptors returns the built-in scenario descriptors.
func Descriptors() []scenario.Descriptor {
	return []scenario.Descriptor{
		{
			Name:        KindSleep,
			Title:       "Sleep",
			Description: "Synthetic latency without touching the target",
			Params: map[string]scenario.Param{
				"latency": {Type: scenario.ParamDuration, Default: "10ms", Description: "time spent per execution"},
				"fail":    {Type: scenario.ParamBoolean, Default: false, Description: "fail every execution"},
			},
			Create: NewSleep,
		},
		{
			Name:        KindKVSetGet,
			Title:       "Key/value set and get",
			Description: "SET a random key then GET it back",
			Params: map[string]scenario.Param{
				"keyspace":  {Type: scenario.ParamInteger, Default: 1000, Description: "number of distinct keys"},
				"prefix":    {Type: scenario.ParamString, Default: "swarm:kv", Description: "key prefix"},
				"valueSize": {Type: scenario.ParamInteger, Default: 64, Description: "value size in bytes"},
			},
			Create: NewKVSetGet,
		},
		{
			Name:        KindInventory,
			Title:       "Inventory reservation",
			Description: "Reserve stock with optimistic locking and cancel a share of reservations",
			Params: map[string]scenario.Param{
				"products":   {Type: scenario.ParamInteger, Default: 100, Description: "number of products seeded"},
				"stock":      {Type: scenario.ParamInteger, Default: 1000000, Description: "initial stock per product"},
				"quantity":   {Type: scenario.ParamInteger, Default: 1, Description: "units per reservation"},
				"cancelRate": {Type: scenario.ParamNumber, Default: 0.1, Description: "share of reservations rolled back"},
				"retries":    {Type: scenario.ParamInteger, Default: 5, Description: "optimistic lock retries"},
				"prefix":     {Type: scenario.ParamString, Default: "swarm:inv", Description: "key prefix"},
			},
			Create: NewInventory,
		},
		{
			Name:        KindQueue,
			Title:       "Queue consumer",
			Description: "Self-paced producer/consumer over a Redis list",
			Params: map[string]scenario.Param{
				"queue":     {Type: scenario.ParamString, Default: "swarm:queue", Description: "list key"},
				"tickEvery": {Type: scenario.ParamInteger, Default: 100, Description: "messages per progress tick"},
			},
			Create: NewQueue,
		},
	}
}

// Install registers the built-in factories as kinds and the built-in
// descriptors under their own names.
func Install(reg *scenario.Registry) error {
	for _, d := range Descriptors() {
		reg.RegisterKind(d.Name, d.Create)
	}
	return reg.Register(Descriptors()...)
}
