package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	sparkcli "github.com/fireflyhq/spark-server/spark-cli"
	sparkcron "github.com/fireflyhq/spark-server/spark-cron"
	sparkrest "github.com/fireflyhq/spark-server/spark-rest"
	sparkws "github.com/fireflyhq/spark-server/spark-ws"
	"github.com/fireflyhq/spark-server/spark-ws/memberdao"
	"github.com/fireflyhq/spark-server/spark-ws/sparkdao"
)

var service = sparkcli.NewService("spark-server")

func main() {
	app := sparkcli.App(
		service,
		action,
		append(
			sparkcli.CommonFlags,
			sparkcli.PortFlag(5000),
		)...,
	)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func action(_ *cli.Context) error {
	logger := sparkcli.Logger(service)

	var (
		sparks  sparkdao.Store
		members memberdao.Store
		metrics *sparkcli.Metrics
	)
	if sparkcli.CommonOpts.Memory {
		logger.Info().Msg("using in-memory stores")
		sparks = sparkdao.NewMemoryStore()
		members = memberdao.NewMemoryStore()
	} else {
		sess := session.Must(session.NewSession(aws.NewConfig()))
		api := dynamodb.New(sess)
		sparks = sparkdao.Build(api, sparkcli.CommonOpts.Env)
		members = memberdao.Build(api, sparkcli.CommonOpts.Env)
		metrics = sparkcli.NewMetrics(service, cloudwatch.New(sess))
	}

	registry := sparkws.NewRegistry()
	coordinator := sparkws.NewCoordinator(sparks, members, registry, logger)
	coordinator.Metrics = metrics

	routes := chi.NewRouter()
	sparkrest.Middlewares(service, routes)

	api := &sparkrest.API{
		Sparks:     sparks,
		Members:    members,
		SessionTTL: sparkcli.CommonOpts.SessionTTL,
	}
	api.Mount(routes)
	routes.Handle("/ws", sparkws.NewHandler(coordinator, logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := sparkcron.New(sparks, members, logger)
	sweeper.Interval = sparkcli.CommonOpts.SweepInterval
	sweeper.StaleAfter = sparkcli.CommonOpts.StaleAfter
	sweeper.Metrics = metrics
	sweeper.Start(ctx)
	defer sweeper.Stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return sparkrest.Webserver(ctx, service, routes)
	})
	return group.Wait()
}
