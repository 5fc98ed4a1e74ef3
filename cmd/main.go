// FilePath: server/devicehub/cmd/main.go
package main

import (
	"fmt"
	"log"
	"os"

	tm "github.com/buger/goterm"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/config"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/server"
	flag "github.com/spf13/pflag"
	nuts "github.com/vaudience/go-nuts"
)

func main() {
	configPath := flag.StringP("config", "c", "", "path to a config file (default ./config/config.yaml)")
	quiet := flag.BoolP("quiet", "q", false, "do not clear the console or draw the logo")
	flag.Parse()

	if !*quiet {
		ClearConsole()
		DrawLogo()
	}
	// Initialize version info
	nuts.InitVersion()
	nuts.L.Infof("[Main] Starting W4B Device Hub v%s", nuts.GetVersion())

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	nuts.L.Infof("[Main] Store driver %s, provisioning policy %s", cfg.Store.Driver, cfg.Provisioning.Policy)

	// Create and start server
	srv := server.New(cfg)
	if err := srv.Start(); err != nil {
		nuts.L.Errorf("[Main] Server error: %v", err)
		os.Exit(1)
	}
}

// ClearConsole clears the console screen
func ClearConsole() {
	tm.Clear()
	tm.MoveCursor(1, 1)
	tm.Flush()
}

func DrawLogo() {
	fmt.Println()
	lines := []string{
		"    ____            _          __  __      __  ",
		"   / __ \\___ _   __(_)_______ / / / /_  __/ /_ ",
		"  / / / / _ \\ | / / / ___/ _ \\ /_/ / / / / __ \\",
		" / /_/ /  __/ |/ / / /__/  __/ __  / /_/ / /_/ /",
		"/_____/\\___/|___/_/\\___/\\___/_/ /_/\\__,_/_.___/ ",
		"................................................  " + nuts.GetVersion(),
	}

	for _, line := range lines {
		fmt.Println(tm.Color(line, tm.CYAN))
	}
}
