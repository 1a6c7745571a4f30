// Command swapd-cli is the operator-facing companion to swapd: today it
// only bulk-loads address-filter (sender deny list) addresses, the one
// maintenance task that
// can't wait for a full RPC round-trip when seeding a fresh database from an
// address list exported elsewhere.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/urfave/cli"

	"github.com/lnswap/swapd/internal/dbutil"
	"github.com/lnswap/swapd/internal/swaprepo"
)

func main() {
	app := cli.NewApp()
	app.Name = "swapd-cli"
	app.Usage = "operator tools for the swapd address filter database"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "db-url",
			Usage: "path to the swapd sqlite database",
			Value: "./data/swapd.sqlite",
		},
		cli.StringFlag{
			Name:  "network",
			Usage: "bitcoin, testnet, signet, or regtest",
			Value: "bitcoin",
		},
	}
	app.Commands = []cli.Command{addressFiltersCommand}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var addressFiltersCommand = cli.Command{
	Name:  "address-filters",
	Usage: "manage the sender address-filter (deny list) set",
	Subcommands: []cli.Command{
		{
			Name:      "add",
			Usage:     "bulk-load filter addresses from a newline-delimited file",
			ArgsUsage: "<file>",
			Action:    actionDecorator(addressFiltersAdd),
		},
	},
}

// actionDecorator turns an error-returning handler into the
// cli.ActionFunc shape, so errors reach the caller's exit-code path instead
// of each handler calling os.Exit directly.
func actionDecorator(fn func(ctx *cli.Context) error) func(*cli.Context) error {
	return func(ctx *cli.Context) error {
		if err := fn(ctx); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		return nil
	}
}

func addressFiltersAdd(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 1 {
		return cli.ShowCommandHelp(ctx, "add")
	}
	path := args.Get(0)

	addresses, err := readAddressFile(path)
	if err != nil {
		return fmt.Errorf("read address file: %w", err)
	}
	if len(addresses) == 0 {
		return fmt.Errorf("%s contains no addresses", path)
	}

	network, err := resolveNetwork(ctx.GlobalString("network"))
	if err != nil {
		return err
	}

	db, err := dbutil.New(ctx.GlobalString("db-url"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	repo := swaprepo.New(db, network)
	if err := repo.AddFilterAddresses(context.Background(), addresses); err != nil {
		return fmt.Errorf("add filter addresses: %w", err)
	}

	fmt.Printf("added %d address(es) to the filter set\n", len(addresses))
	return nil
}

// readAddressFile reads one address per line, skipping blank lines and
// lines starting with '#' so operators can annotate the export.
func readAddressFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var addresses []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addresses = append(addresses, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return addresses, nil
}

func resolveNetwork(name string) (*chaincfg.Params, error) {
	switch name {
	case "bitcoin", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}
