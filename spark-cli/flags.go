package sparkcli

import (
	"time"

	"github.com/urfave/cli/v2"
)

var CommonOpts struct {
	Env           string
	Port          int
	Memory        bool
	SessionTTL    time.Duration
	SweepInterval time.Duration
	StaleAfter    time.Duration
}

var EnvFlag = cli.StringFlag{
	Name:        "env",
	Usage:       "environment, used to scope table names",
	Value:       "local",
	EnvVars:     []string{"ENV"},
	Destination: &CommonOpts.Env,
}
var MemoryFlag = cli.BoolFlag{
	Name:        "memory",
	Usage:       "use in-memory stores instead of DynamoDB",
	Value:       false,
	EnvVars:     []string{"MEMORY"},
	Destination: &CommonOpts.Memory,
}
var SessionTTLFlag = cli.DurationFlag{
	Name:        "session-ttl",
	Usage:       "lifetime of a newly created spark",
	Value:       24 * time.Hour,
	EnvVars:     []string{"SESSION_TTL"},
	Destination: &CommonOpts.SessionTTL,
}
var SweepIntervalFlag = cli.DurationFlag{
	Name:        "sweep-interval",
	Usage:       "how often expired sparks and stale members are evicted",
	Value:       time.Minute,
	EnvVars:     []string{"SWEEP_INTERVAL"},
	Destination: &CommonOpts.SweepInterval,
}
var StaleAfterFlag = cli.DurationFlag{
	Name:        "stale-after",
	Usage:       "members not seen for this long are evicted",
	Value:       5 * time.Minute,
	EnvVars:     []string{"STALE_AFTER"},
	Destination: &CommonOpts.StaleAfter,
}
var PortFlag = func(p int) *cli.IntFlag {
	return &cli.IntFlag{
		Name:        "port",
		Usage:       "Port to listen on",
		Value:       p,
		EnvVars:     []string{"PORT"},
		Destination: &CommonOpts.Port,
	}
}

var CommonFlags = []cli.Flag{
	&EnvFlag,
	&MemoryFlag,
	&SessionTTLFlag,
	&SweepIntervalFlag,
	&StaleAfterFlag,
}
