package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/assoctools/rolesync/config"
	"github.com/assoctools/rolesync/helloasso"
)

// Lists the organization's HelloAsso forms, to find the form_slug value for
// the config.
func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	client := helloasso.NewClient(cfg.HelloAsso)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	forms, err := client.ListForms(ctx)
	if err != nil {
		panic(fmt.Sprintf("failed to list forms: %v", err))
	}

	for _, form := range forms {
		fmt.Printf("%-12s %-30s %s\n", form.FormType, form.FormSlug, form.Title)
	}
	fmt.Printf("Total forms: %d\n", len(forms))
}
