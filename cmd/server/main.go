// cmd/server/main.go
package main

import (
	"fmt"
	"log"

	"github.com/Corphon/SceneBechdel/internal/app"
	"github.com/Corphon/SceneBechdel/internal/di"
)

func main() {
	log.Println("starting SceneBechdel server")

	if err := app.Initialize(); err != nil {
		log.Fatalf("initialization failed: %v", err)
	}

	if err := performHealthCheck(); err != nil {
		log.Fatalf("service health check failed: %v", err)
	}

	cfg := app.GetApp().GetConfig()
	log.Printf("listening on :%s (store=%s, lookups=%t)", cfg.Port, cfg.StoreBackend, cfg.LookupEnabled)

	if err := app.Run(); err != nil {
		log.Fatalf("server stopped with error: %v", err)
	}
	log.Println("server stopped")
}

// performHealthCheck makes sure the services the routes depend on exist.
func performHealthCheck() error {
	container := di.GetContainer()
	for _, name := range []string{"batch", "runs", "reports", "progress", "store"} {
		if !container.Has(name) {
			return fmt.Errorf("service %q not registered", name)
		}
	}
	return nil
}
