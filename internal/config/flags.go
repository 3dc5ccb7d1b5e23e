package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/wildgrid/camsync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-g string   S3 region
//	-u string   S3 user
//	-p string   S3 secret
//	-o string   origin identifier override
//	-t int      collections snapshot TTL, minutes
//	-s int      uploads snapshot TTL, minutes
//	-l int      lock abandonment timeout, seconds
//	-w int      follower poll budget, seconds
//	-n int      follower poll attempts
//	-j int      fetch worker pool size
//	-a string   comma-separated admin usernames
//
// The args are first filtered with flagx.FilterArgs so flags owned by other
// components (such as -c/-config) do not cause parse failures. Duration
// flags overwrite the config only when actually given, so values from the
// JSON overlay survive an absent flag.
func parseFlags(config *Config) {
	parseFlagArgs(config, os.Args[1:])
}

func parseFlagArgs(config *Config, argv []string) {
	args := flagx.FilterArgs(argv, []string{"-d", "-e", "-g", "-u", "-p", "-o", "-t", "-s", "-l", "-w", "-n", "-j", "-a"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.S3Endpoint, "e", config.S3Endpoint, "S3 base endpoint")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3User, "u", config.S3User, "S3 user")
	fs.StringVar(&config.S3Secret, "p", config.S3Secret, "S3 secret")
	fs.StringVar(&config.OriginID, "o", config.OriginID, "origin identifier")

	collectionsTTL := fs.Int("t", int(config.CollectionsTTL.Minutes()), "collections snapshot TTL (in minutes)")
	uploadsTTL := fs.Int("s", int(config.UploadsTTL.Minutes()), "uploads snapshot TTL (in minutes)")
	lockMaxHold := fs.Int("l", int(config.LockMaxHold.Seconds()), "lock abandonment timeout (in seconds)")
	pollBudget := fs.Int("w", int(config.PollBudget.Seconds()), "follower poll budget (in seconds)")

	fs.IntVar(&config.PollAttempts, "n", config.PollAttempts, "follower poll attempts")
	fs.IntVar(&config.FetchWorkers, "j", config.FetchWorkers, "fetch worker pool size")

	admins := fs.String("a", "", "comma-separated admin usernames")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["t"] {
		config.CollectionsTTL = time.Duration(*collectionsTTL) * time.Minute
	}
	if set["s"] {
		config.UploadsTTL = time.Duration(*uploadsTTL) * time.Minute
	}
	if set["l"] {
		config.LockMaxHold = time.Duration(*lockMaxHold) * time.Second
	}
	if set["w"] {
		config.PollBudget = time.Duration(*pollBudget) * time.Second
	}
	if set["a"] {
		config.AdminUsers = strings.Split(*admins, ",")
	}
}
