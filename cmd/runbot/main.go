package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"runbot/internal/app"
	"runbot/internal/queue"
)

func main() {
	var (
		cfgPath     string
		owner       string
		runPhone    string
		syncPhone   string
		statusPhone string
		list        bool
		resetLeases bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.StringVar(&owner, "owner", "", "owner scope for account flags")
	flag.StringVar(&runPhone, "run", "", "run one account now (full mode) and exit")
	flag.StringVar(&syncPhone, "sync", "", "sync one account's metrics now and exit")
	flag.StringVar(&statusPhone, "status", "", "print one account's state and exit")
	flag.BoolVar(&list, "list", false, "print the account table and exit")
	flag.BoolVar(&resetLeases, "reset-leases", false, "force-clear all run leases and exit")
	flag.Parse()

	// Optional .env in the working directory; the config file may
	// reference its values via ${NAME}.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	switch {
	case list:
		printAccounts(a, owner)
	case resetLeases:
		n, err := a.ResetLeases()
		exitOn(err)
		fmt.Printf("cleared %d lease(s)\n", n)
	case statusPhone != "":
		st, err := a.Status(owner, statusPhone)
		exitOn(err)
		fmt.Printf("%s: %s", st.Account.Key(), st.State)
		if st.QueuePos > 0 {
			fmt.Printf(" (position %d)", st.QueuePos)
		}
		fmt.Println()
	case runPhone != "":
		oneShot(ctx, a, owner, runPhone, queue.ModeFull)
	case syncPhone != "":
		oneShot(ctx, a, owner, syncPhone, queue.ModeSync)
	default:
		daemonize(ctx, a)
	}
}

func oneShot(ctx context.Context, a *app.App, owner, phone string, mode queue.Mode) {
	a.StartWorkers(ctx)
	defer stopWithTimeout(a)

	job, err := a.TriggerRun(owner, phone, mode)
	exitOn(err)
	fmt.Printf("job %s enqueued (%s)\n", job.ID, mode)
	exitOn(a.WaitIdle(ctx))
}

func daemonize(ctx context.Context, a *app.App) {
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopWithTimeout(a)
}

func stopWithTimeout(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.Stop(ctx)
}

func printAccounts(a *app.App, owner string) {
	accounts := a.ListAccounts(owner)
	if len(accounts) == 0 {
		fmt.Println("no accounts")
		return
	}
	for _, acct := range accounts {
		schedule := acct.Schedule
		if schedule == "" {
			schedule = "manual"
		}
		lastRun := "never"
		if !acct.LastRunAt.IsZero() {
			lastRun = acct.LastRunAt.Format("2006-01-02 15:04")
		}
		fmt.Printf("%-20s tier=%-3s schedule=%-6s last_run=%s\n",
			acct.Key(), acct.Tier, schedule, lastRun)
	}
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
