package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/bcrypt"

	"cellstock/backend/internal/domain"
	"cellstock/backend/internal/logger"
	"cellstock/backend/internal/store"
	"cellstock/backend/internal/store/memory"
	pgstore "cellstock/backend/internal/store/postgres"
)

func newDBURLFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "db-url",
		Usage:    "Database connection string",
		Required: true,
		EnvVars:  []string{"DATABASE_URL"},
	}
}

func openStore(c *cli.Context) (*pgstore.Store, error) {
	pg, err := pgstore.New(c.Context, c.String("db-url"), 4)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return pg, nil
}

func main() {
	_ = godotenv.Load()
	logger.Setup(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))

	app := &cli.App{
		Name:  "cellctl",
		Usage: "Maintenance tasks for the cellstock database",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Apply the embedded schema",
				Flags:  []cli.Flag{newDBURLFlag()},
				Action: runMigrate,
			},
			{
				Name:  "seed",
				Usage: "Seed the catalog, a grid of empty cells and the admin/staff accounts",
				Flags: []cli.Flag{
					newDBURLFlag(),
					&cli.StringFlag{
						Name:  "cols",
						Usage: "Comma separated column labels",
						Value: "A,B,C",
					},
					&cli.IntFlag{
						Name:  "rows",
						Usage: "Rows per column",
						Value: 4,
					},
					&cli.StringFlag{
						Name:     "admin-password",
						Usage:    "Password for the admin account",
						Required: true,
						EnvVars:  []string{"SEED_ADMIN_PASSWORD"},
					},
					&cli.StringFlag{
						Name:     "staff-password",
						Usage:    "Password for the staff account",
						Required: true,
						EnvVars:  []string{"SEED_STAFF_PASSWORD"},
					},
				},
				Action: runSeed,
			},
			{
				Name:   "normalize",
				Usage:  "Rewrite legacy cell rows with defaults and recomputed totals",
				Flags:  []cli.Flag{newDBURLFlag()},
				Action: runNormalize,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("cellctl failed")
	}
}

func runMigrate(c *cli.Context) error {
	pg, err := openStore(c)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.Migrate(c.Context); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info().Msg("schema applied")
	return nil
}

func runSeed(c *cli.Context) error {
	pg, err := openStore(c)
	if err != nil {
		return err
	}
	defer pg.Close()

	now := time.Now().UTC()
	products := 0
	for _, p := range memory.SeedProducts() {
		p.CreatedAt = now
		if _, err := pg.CreateProduct(c.Context, p); err != nil {
			if errors.Is(err, store.ErrDuplicateID) {
				continue
			}
			return fmt.Errorf("seed product %s: %w", p.ProductID, err)
		}
		products++
	}

	cols := make([]string, 0, 8)
	for _, col := range strings.Split(c.String("cols"), ",") {
		if col = strings.TrimSpace(col); col != "" {
			cols = append(cols, col)
		}
	}
	cells := 0
	for _, cell := range memory.SeedGrid(cols, c.Int("rows"), now) {
		if _, err := pg.CreateCell(c.Context, cell); err != nil {
			if errors.Is(err, store.ErrDuplicateID) {
				continue
			}
			return fmt.Errorf("seed cell %s: %w", cell.CellID, err)
		}
		cells++
	}

	users := 0
	for _, u := range []struct{ username, password, role string }{
		{"admin", c.String("admin-password"), "admin"},
		{"staff", c.String("staff-password"), "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", u.username, err)
		}
		err = pg.CreateUser(c.Context, domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		})
		if err != nil {
			if errors.Is(err, store.ErrDuplicateID) {
				continue
			}
			return fmt.Errorf("seed user %s: %w", u.username, err)
		}
		users++
	}

	log.Info().Int("products", products).Int("cells", cells).Int("users", users).Msg("seed complete")
	return nil
}

func runNormalize(c *cli.Context) error {
	pg, err := openStore(c)
	if err != nil {
		return err
	}
	defer pg.Close()

	count, err := pg.NormalizeCells(c.Context)
	if err != nil {
		return fmt.Errorf("normalize: %w", err)
	}
	log.Info().Int("cells", count).Msg("cells normalized")
	return nil
}
