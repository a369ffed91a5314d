package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/hpconf/hpconf/pkg/section"
	"github.com/hpconf/hpconf/pkg/stores"
)

// ExampleSQLiteStore_Audit shows the audit trail of committed batches.
func ExampleSQLiteStore_Audit() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	_ = store.Apply(ctx, []section.Change{section.CreateChange(section.New("node", "node_1"), -1)})
	_ = store.Set(ctx, "node", "node_1", "port", []string{"443"})
	_ = store.Apply(ctx, []section.Change{section.MoveChange("node", "node_1", 0)})

	entries, _ := store.Audit(ctx, stores.AuditFilter{Type: "node"})
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Key != nil {
			fmt.Println(e.Op, e.ID, *e.Key, *e.Value)
			continue
		}
		fmt.Println(e.Op, e.ID)
	}
	// Output:
	// create node_1
	// set node_1 port ["443"]
	// move node_1
}

// ExampleSQLiteStore_Apply demonstrates committing a change batch and
// loading the sections back in user order.
func ExampleSQLiteStore_Apply() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	hk := section.New("routing_node", "routing_node_1")
	hk.Set("label", []string{"Hong Kong"})
	jp := section.New("routing_node", "routing_node_2")
	jp.Set("label", []string{"Japan"})

	err = store.Apply(ctx, []section.Change{
		section.CreateChange(hk, -1),
		section.CreateChange(jp, 0),
		section.SetChange("routing_node", "routing_node_1", "outbound", []string{"routing_node_2"}),
	})
	if err != nil {
		log.Fatal(err)
	}

	sections, _ := store.Load(ctx, "routing_node")
	for _, sec := range sections {
		fmt.Printf("%s %s %v\n", sec.ID, sec.Label(), sec.Get("outbound"))
	}
	// Output:
	// routing_node_2 Japan []
	// routing_node_1 Hong Kong [routing_node_2]
}
