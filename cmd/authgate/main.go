package main

import (
	"fmt"
	"os"

	"github.com/brickweb/authgate"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: authgate <path to authgate.json>")
		return
	}
	config := &authgate.Config{}
	if err := config.LoadFile(os.Args[1]); err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := authgate.SqlCreateDatabase(&config.DB); err != nil {
		fmt.Printf("Error creating database: %v\n", err)
		os.Exit(1)
	}
	if err := authgate.RunMigrations(&config.DB); err != nil {
		fmt.Printf("Error running migrations: %v\n", err)
		os.Exit(1)
	}
	if err := authgate.RunHttpFromConfig(config); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
