// rechu keeps a database of shop receipts and product metadata in line with YAML files.
//
// Usage:
//
//	rechu create
//	rechu read [--dry-run]
//	rechu match [--update] [--shop id]
//	rechu dump [--force] [FILE...]
//	rechu delete [--keep] FILE...
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lhelwerd/rechu/config"
	"github.com/lhelwerd/rechu/models"
	"github.com/lhelwerd/rechu/records"
	"github.com/lhelwerd/rechu/utils"
	"github.com/lhelwerd/rechu/workflow"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "rechu",
		Usage:   "Receipt and product metadata catalog",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "operator",
				Usage:   "Name recorded on reconcile runs",
				EnvVars: []string{"RECHU_OPERATOR", "USER"},
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logrus.ParseLevel(c.String("log-level"))
			if err != nil {
				return err
			}
			config.GetLogger().SetLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			createCommand(),
			readCommand(),
			matchCommand(),
			dumpCommand(),
			deleteCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// connect opens the database and, when configured, Redis for scope locks.
func connect(c *cli.Context) (context.Context, *workflow.Reconciler, error) {
	ctx := c.Context
	if operator := c.String("operator"); operator != "" {
		ctx = utils.SetOperatorInContext(ctx, operator)
	}
	config.ConnectDatabaseWithRetry()
	if config.RedisEnabled() {
		if err := config.ConnectRedisWithRetry(ctx, 5); err != nil {
			return ctx, nil, fmt.Errorf("failed to connect redis: %w", err)
		}
	}
	return ctx, workflow.NewReconciler(config.GetDB(), nil, nil), nil
}

func printResult(action string, res *workflow.Result) {
	if res == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %d created, %d updated, %d deleted, %d failed\n",
		action, res.Created, res.Updated, res.Deleted, len(res.Errors))
	for _, key := range utils.SortedKeys(res.Stats) {
		fmt.Fprintf(os.Stderr, "  %s: %d\n", key, res.Stats[key])
	}
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create the database schema",
		Action: func(c *cli.Context) error {
			config.ConnectDatabaseWithRetry()
			return models.MigrateTable()
		},
	}
}

func readCommand() *cli.Command {
	return &cli.Command{
		Name:  "read",
		Usage: "Import updated shops, products and receipt files",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Report the changes without storing them",
			},
		},
		Action: runRead,
	}
}

func inventoryFiles() ([]string, error) {
	seen := map[string]bool{}
	var paths []string
	for _, pattern := range config.InventoryGlobs() {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, path := range matches {
			if !seen[path] {
				seen[path] = true
				paths = append(paths, path)
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func runRead(c *cli.Context) error {
	ctx, r, err := connect(c)
	if err != nil {
		return err
	}
	defer config.CloseRedis()
	if c.Bool("dry-run") {
		ctx = utils.SetDryRunInContext(ctx, true)
	}
	logger := config.GetLogger()
	var failures []error

	shopsFile := config.ShopsFile()
	if shops, err := records.ReadShops(shopsFile); err == nil {
		res, err := r.ReconcileShops(ctx, shopsFile, shops)
		printResult("shops", res)
		failures = append(failures, err)
	} else if !errors.Is(err, os.ErrNotExist) {
		failures = append(failures, err)
	}

	inventories, err := inventoryFiles()
	if err != nil {
		return err
	}
	total := workflow.NewResult()
	for _, path := range inventories {
		inv, err := records.ReadInventory(path)
		if err != nil {
			config.LogError(logger, "cmd", "runRead", "reading inventory", path, err)
			failures = append(failures, err)
			continue
		}
		res, err := r.ReconcileInventory(ctx, inv)
		total.Add(res)
		failures = append(failures, err)
	}
	printResult("products", total)

	receipts, err := readReceipts(ctx, r, inventories, shopsFile)
	failures = append(failures, err)
	if len(receipts) > 0 {
		res, err := r.ReconcileReceipts(ctx, receipts)
		printResult("receipts", res)
		failures = append(failures, err)
	}
	return errors.Join(failures...)
}

// readReceipts parses the receipt files that are new or changed since they were stored.
func readReceipts(ctx context.Context, r *workflow.Reconciler, inventories []string, shopsFile string) ([]*records.ReceiptRecord, error) {
	paths, err := filepath.Glob(filepath.Join(config.DataPath(), config.DataPattern()))
	if err != nil {
		return nil, err
	}
	updates, err := r.ReceiptUpdates(ctx)
	if err != nil {
		return nil, err
	}
	skip := map[string]bool{shopsFile: true}
	for _, path := range inventories {
		skip[path] = true
	}

	logger := config.GetLogger()
	var receipts []*records.ReceiptRecord
	var failures []error
	for _, path := range paths {
		if skip[path] {
			continue
		}
		if updated, ok := updates[filepath.Base(path)]; ok {
			info, err := os.Stat(path)
			if err != nil {
				failures = append(failures, err)
				continue
			}
			if !info.ModTime().UTC().Truncate(time.Second).After(updated.UTC().Truncate(time.Second)) {
				continue
			}
		}
		receipt, err := records.ReadReceipt(path)
		if err != nil {
			config.LogError(logger, "cmd", "readReceipts", "reading receipt", path, err)
			failures = append(failures, err)
			continue
		}
		receipts = append(receipts, receipt)
	}
	return receipts, errors.Join(failures...)
}

func matchCommand() *cli.Command {
	return &cli.Command{
		Name:  "match",
		Usage: "Link receipt items to product metadata",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "update",
				Usage: "Also re-resolve items that are already linked",
			},
			&cli.StringFlag{
				Name:  "shop",
				Usage: "Only resolve receipts of this shop",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, r, err := connect(c)
			if err != nil {
				return err
			}
			defer config.CloseRedis()
			res, err := r.Rematch(ctx, workflow.MatchOptions{Shop: c.String("shop"), Update: c.Bool("update")})
			printResult("match", res)
			return err
		},
	}
}

func dumpCommand() *cli.Command {
	return &cli.Command{
		Name:      "dump",
		Usage:     "Export receipts, products and shops as YAML files",
		ArgsUsage: "[FILE...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Overwrite existing files",
			},
		},
		Action: runDump,
	}
}

func writable(path string, force bool) bool {
	if force {
		return true
	}
	_, err := os.Stat(path)
	return errors.Is(err, os.ErrNotExist)
}

func runDump(c *cli.Context) error {
	ctx, r, err := connect(c)
	if err != nil {
		return err
	}
	defer config.CloseRedis()
	force := c.Bool("force")

	filenames := make([]string, 0, c.NArg())
	for _, file := range c.Args().Slice() {
		filenames = append(filenames, filepath.Base(file))
	}
	filenames = utils.UniqueSlice(filenames)
	if len(filenames) == 0 {
		if filenames, err = r.ReceiptFilenames(ctx, nil); err != nil {
			return err
		}
	}
	written := 0
	for _, filename := range filenames {
		receipt, err := r.ExportReceipt(ctx, filename)
		if err != nil {
			return fmt.Errorf("export %s: %w", filename, err)
		}
		path := config.ReceiptPath(filename, receipt.Shop)
		if !writable(path, force) {
			continue
		}
		if err := records.WriteReceipt(path, receipt); err != nil {
			return err
		}
		written++
	}
	fmt.Fprintf(os.Stderr, "receipts: %d written\n", written)
	if c.NArg() > 0 {
		return nil
	}

	scopes, err := r.InventoryScopes(ctx)
	if err != nil {
		return err
	}
	written = 0
	for _, scope := range scopes {
		inv, err := r.ExportInventory(ctx, scope[0], scope[1], scope[2])
		if err != nil {
			return err
		}
		path := config.InventoryPath(scope[0], scope[1], scope[2])
		if !writable(path, force) {
			continue
		}
		if err := records.WriteInventory(path, inv); err != nil {
			return err
		}
		written++
	}
	fmt.Fprintf(os.Stderr, "products: %d written\n", written)

	shops, err := r.ExportShops(ctx)
	if err != nil {
		return err
	}
	if path := config.ShopsFile(); len(shops) > 0 && writable(path, force) {
		return records.WriteShops(path, shops)
	}
	return nil
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete receipts from the database and the data path",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "keep",
				Aliases: []string{"k"},
				Usage:   "Do not delete the YAML file from the data path",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return errors.New("at least one file is required")
			}
			ctx, r, err := connect(c)
			if err != nil {
				return err
			}
			defer config.CloseRedis()
			logger := config.GetLogger()

			var failures []error
			for _, file := range utils.UniqueSlice(c.Args().Slice()) {
				filename := filepath.Base(file)
				res, err := r.DeleteReceipt(ctx, filename)
				printResult("delete "+filename, res)
				if err != nil {
					failures = append(failures, fmt.Errorf("%s: %w", filename, err))
				}
				if c.Bool("keep") {
					continue
				}
				matches, _ := filepath.Glob(filepath.Join(config.DataPath(), filepath.Dir(config.DataPattern()), filename))
				if len(matches) == 0 {
					config.LogWarning(logger, "cmd", "delete", "removing receipt file", filename, "file not found in data path")
					continue
				}
				if err := os.Remove(matches[0]); err != nil {
					failures = append(failures, err)
				}
			}
			return errors.Join(failures...)
		},
	}
}
