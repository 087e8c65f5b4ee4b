package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/linkrent/linkrent/internal/audit"
	"github.com/linkrent/linkrent/internal/clock"
	"github.com/linkrent/linkrent/internal/config"
	"github.com/linkrent/linkrent/internal/inventory"
	"github.com/linkrent/linkrent/internal/ledger"
	"github.com/linkrent/linkrent/internal/notification"
	"github.com/linkrent/linkrent/internal/placement"
	"github.com/linkrent/linkrent/internal/publisher"
	"github.com/linkrent/linkrent/internal/rental"
	"github.com/linkrent/linkrent/internal/scheduler"
	"github.com/linkrent/linkrent/pkg/db"
	"github.com/linkrent/linkrent/pkg/log"
	"go.uber.org/fx"
)

// Scheduler-only binary: runs the reconciliation sweeps against a database
// another instance migrated. SCHEDULER_ENABLED_JOBS can restrict the set.
func main() {
	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by the sweeps
		audit.Module,
		notification.Module,
		ledger.Module,
		inventory.Module,
		publisher.Module,
		placement.Module,
		rental.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
