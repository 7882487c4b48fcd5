package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/proptax/calculator/api/internal/address"
	"github.com/proptax/calculator/api/internal/calculator"
	"github.com/proptax/calculator/api/internal/models"
	"github.com/proptax/calculator/api/internal/services"
	"github.com/urfave/cli/v2"
)

// runtime is the wiring shared by commands that reach the cache or the
// property data provider.
type runtime struct {
	service   services.CalculateService
	persister *services.AsyncPersister
	close     func()
}

// opener builds a runtime. Tests substitute an in-memory one.
type opener func(ctx context.Context) (*runtime, error)

// KeyOutput describes how an address is keyed and sent upstream.
type KeyOutput struct {
	Address         string `json:"address"`
	Key             string `json:"key"`
	ProviderAddress string `json:"providerAddress"`
	Unit            string `json:"unit,omitempty"`
}

// HistoryOutput lists archived snapshots for one address.
type HistoryOutput struct {
	Address  string              `json:"address"`
	Key      string              `json:"key"`
	Versions []models.CacheEntry `json:"versions"`
	Count    int                 `json:"count"`
}

// CalculateOutput is the savings estimate for one address.
type CalculateOutput struct {
	Address      string             `json:"address"`
	Calculations models.TaxAnalysis `json:"calculations"`
	CacheHit     bool               `json:"cacheHit"`
	Offline      bool               `json:"offline"`
	Warnings     []string           `json:"warnings,omitempty"`
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(open opener) *cli.App {
	app := &cli.App{
		Name:    "propctl",
		Usage:   "Inspect and exercise the property tax calculator",
		Version: Version,
		Commands: []*cli.Command{
			keyCmd(),
			historyCmd(open),
			calculateCmd(open),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// keyCmd creates the key command.
func keyCmd() *cli.Command {
	return &cli.Command{
		Name:      "key",
		Usage:     "Show the cache key and provider form of an address",
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			addr, err := address.Validate(c.Args().First())
			if err != nil {
				return outputError(err)
			}

			return outputJSON(c.App.Writer, KeyOutput{
				Address:         addr,
				Key:             address.Key(addr),
				ProviderAddress: address.CleanForProvider(addr),
				Unit:            address.ExtractUnit(addr),
			})
		},
	}
}

// historyCmd creates the history command.
func historyCmd(open opener) *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List archived snapshots of an address, newest first",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 10, Usage: "Maximum versions to return (1-100)"},
		},
		Action: func(c *cli.Context) error {
			limit := c.Int("limit")
			if limit < 1 || limit > 100 {
				return outputError(errors.New("limit must be between 1 and 100"))
			}

			addr, err := address.Validate(c.Args().First())
			if err != nil {
				return outputError(err)
			}

			rt, err := open(c.Context)
			if err != nil {
				return outputError(err)
			}
			defer rt.close()

			versions, err := rt.service.History(c.Context, addr, limit)
			if err != nil {
				return outputError(err)
			}
			if versions == nil {
				versions = []models.CacheEntry{}
			}

			return outputJSON(c.App.Writer, HistoryOutput{
				Address:  addr,
				Key:      address.Key(addr),
				Versions: versions,
				Count:    len(versions),
			})
		},
	}
}

// calculateCmd creates the calculate command.
func calculateCmd(open opener) *cli.Command {
	return &cli.Command{
		Name:      "calculate",
		Usage:     "Estimate savings for an address, or offline from a property record file",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "record", Aliases: []string{"r"}, Usage: "JSON property record to calculate from without the cache or provider"},
		},
		Action: func(c *cli.Context) error {
			if path := c.String("record"); path != "" {
				return calculateOffline(c, path)
			}

			addr, err := address.Validate(c.Args().First())
			if err != nil {
				return outputError(err)
			}

			rt, err := open(c.Context)
			if err != nil {
				return outputError(err)
			}
			defer rt.close()

			result, err := rt.service.Calculate(c.Context, addr)

			// The analysis is saved in the background; wait for it before exiting.
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if closeErr := rt.persister.Close(flushCtx); closeErr != nil {
				fmt.Fprintf(c.App.ErrWriter, "warning: cache write not flushed: %v\n", closeErr)
			}

			if err != nil {
				return outputError(err)
			}

			return outputJSON(c.App.Writer, CalculateOutput{
				Address:      result.Address,
				Calculations: result.Analysis,
				CacheHit:     result.CacheHit,
				Warnings:     result.Warnings,
			})
		},
	}
}

// calculateOffline runs the calculator on a record read from path.
func calculateOffline(c *cli.Context, path string) error {
	record, err := readRecord(path)
	if err != nil {
		return outputError(err)
	}
	if c.NArg() > 0 {
		record.Address = c.Args().First()
	}

	analysis, err := calculator.Calculate(*record, time.Now())
	if err != nil {
		return outputError(err)
	}

	return outputJSON(c.App.Writer, CalculateOutput{
		Address:      record.Address,
		Calculations: analysis,
		Offline:      true,
		Warnings:     record.Warnings,
	})
}

// readRecord decodes a property record from a JSON file.
func readRecord(path string) (*models.PropertyRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}

	var record models.PropertyRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", path, err)
	}
	return &record, nil
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var invalid *address.ValidationError
	switch {
	case errors.As(err, &invalid):
		return cli.Exit(fmt.Sprintf("[INVALID_INPUT] %s", invalid.Reason), 1)
	case calculator.IsCalculationError(err):
		return cli.Exit(fmt.Sprintf("[CALCULATION_ERROR] %s", calculator.Reason(err)), 1)
	case errors.Is(err, services.ErrPropertyNotFound):
		return cli.Exit("[PROPERTY_NOT_FOUND] Property data not found.", 1)
	}
	return cli.Exit(err.Error(), 1)
}
