package store

import (
	"context"
	"fmt"
	"time"
)

func ExampleCache() {
	// A local cache; production wiring passes a RedisKV as the primary.
	c := NewLocalCache[[]string]("roles", NewMemoryKV[[]string]())
	defer c.Shutdown()

	ctx := context.Background()
	_ = c.Set(ctx, "roles", []string{"admin", "editor"}, time.Minute)

	roles, ok, err := c.Get(ctx, "roles")
	if err != nil {
		panic(err)
	}

	fmt.Println(ok, roles)
	// Output:
	// true [admin editor]
}
