package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/jmehdipour/event-relay/internal/config"
	"github.com/jmehdipour/event-relay/internal/db"
	"github.com/jmehdipour/event-relay/internal/model"
	"github.com/jmehdipour/event-relay/internal/outbox"
	"github.com/jmehdipour/event-relay/internal/repository"
	"github.com/jmehdipour/event-relay/internal/service/orders"
	"github.com/jmehdipour/event-relay/internal/util"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo users, orders and a pending event",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// 2) connect MySQL
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo users and orders...")

		if err := seedUsers(sqlDB); err != nil {
			return err
		}
		if err := seedOrders(cmd.Context(), sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed ✅")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// seedUsers inserts deterministic demo users per role (idempotent).
func seedUsers(dbx *sqlx.DB) error {
	users := []model.User{
		{ID: "u-admin-1", Name: "Ada Admin", Role: "admin", Status: "active"},
		{ID: "u-supervisor-1", Name: "Sam Supervisor", Role: "supervisor", Status: "active"},
		{ID: "u-supervisor-2", Name: "Sky Supervisor", Role: "supervisor", Status: "active"},
		{ID: "u-courier-1", Name: "Casey Courier", Role: "courier", Status: "active"},
		{ID: "u-customer-1", Name: "Charlie Customer", Role: "customer", Status: "active"},
		{ID: "u-customer-2", Name: "Corey Customer", Role: "customer", Status: "suspended"},
	}

	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	usersRepo := repository.NewUsersRepository(dbx)
	for _, u := range users {
		if err := usersRepo.Upsert(context.Background(), tx, u); err != nil {
			return fmt.Errorf("upsert user %q: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit users: %w", err)
	}
	return nil
}

// seedOrders creates one demo order and validates it, which leaves a
// pending OrderValidated row in the outbox for the relay to pick up.
func seedOrders(ctx context.Context, dbx *sqlx.DB) error {
	ordersRepo := repository.NewOrdersRepository(dbx)
	outboxRepo := repository.NewOutboxRepository(dbx)
	svc := orders.New(dbx, ordersRepo, outbox.NewProducer(outboxRepo))

	assignee := "u-courier-1"
	o := model.Order{
		ID:         util.New(),
		CustomerID: "u-customer-1",
		AssigneeID: &assignee,
	}
	if err := svc.Create(ctx, o); err != nil {
		return fmt.Errorf("create demo order: %w", err)
	}
	if _, err := svc.Validate(ctx, o.ID); err != nil {
		return fmt.Errorf("validate demo order: %w", err)
	}

	log.Printf(">> demo order %s validated, outbox row pending", o.ID)
	return nil
}
