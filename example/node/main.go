package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RidgeA/postbus"
	"github.com/RidgeA/postbus/config"
	"github.com/RidgeA/postbus/transport"
	"github.com/RidgeA/postbus/transport/amqp"
	"github.com/RidgeA/postbus/transport/pubsub"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type localContext interface {
	transport.Inbox
	Peer(name string) transport.Peer
}

func main() {
	path := flag.String("config", "postbus.toml", "path to the toml configuration")
	flag.Parse()

	log.SetFlags(log.Lshortfile | log.LstdFlags)

	cfg, err := config.Load(*path)
	if err != nil {
		log.Fatal(err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("node", cfg.Transport.Name).Logger()

	local, shutdown, err := open(ctx, cfg.Transport, zl)
	if err != nil {
		log.Fatal(err.Error())
	}
	defer shutdown()

	timeout, _ := cfg.Bus.Timeout()
	opts := []postbus.OptionsFunc{
		postbus.SetLogger(zl),
		postbus.SetRequestTimeout(timeout),
	}

	switch cfg.Role {
	case config.RoleHost:
		runHost(ctx, cfg, local, opts)
	case config.RoleEmbedded:
		runEmbedded(ctx, cfg, local, opts)
	}
}

func runHost(ctx context.Context, cfg config.Config, local localContext, opts []postbus.OptionsFunc) {
	host := postbus.NewHost(local, opts...)
	host.Routes().Register(cfg.Routes)
	host.Routes().SetContainerPath(cfg.ContainerPath)
	host.Routes().SetMicroAppPath(cfg.MicroAppPath)
	if cfg.Transport.Peer != "" {
		host.Attach(local.Peer(cfg.Transport.Peer))
	}

	host.OnInitMicroApp(func(d transport.Delivery) {
		fmt.Printf("embedded context from %s is ready\n", d.Origin)
	})
	host.On("route", func(payload json.RawMessage, _ transport.Delivery) (json.RawMessage, error) {
		var name string
		if err := json.Unmarshal(payload, &name); err != nil {
			return nil, err
		}
		route, ok := host.Routes().Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown route %q", name)
		}
		return json.Marshal(route)
	})

	if err := host.Initialize(cfg.Bus.Postbus()); err != nil {
		log.Fatal(err.Error())
	}
	defer host.Close()

	<-ctx.Done()
}

func runEmbedded(ctx context.Context, cfg config.Config, local localContext, opts []postbus.OptionsFunc) {
	embedded := postbus.NewEmbedded(local, local.Peer(cfg.Transport.Peer), opts...)
	if err := embedded.Initialize(cfg.Bus.Postbus()); err != nil {
		log.Fatal(err.Error())
	}
	defer embedded.Close()

	for name := range cfg.Routes {
		ask, _ := transport.NewContent("route", name)
		reply, err := embedded.Request(ctx, ask, "")
		if err != nil {
			log.Printf("route %s: %v", name, err)
			continue
		}
		fmt.Printf("route %s: %s\n", name, reply.Payload)
	}

	<-ctx.Done()
}

func open(ctx context.Context, t config.TransportConfig, zl zerolog.Logger) (localContext, func(), error) {
	switch t.Kind {
	case config.KindAMQP:
		var opts []amqp.OptionsFunc
		if t.Exchange != "" {
			opts = append(opts, amqp.SetExchange(t.Exchange))
		}
		c := amqp.NewContext(t.URL, t.Name, t.Origin, opts...)
		if err := c.Initialize(); err != nil {
			return nil, nil, err
		}
		return c, c.Shutdown, nil
	case config.KindNATS:
		ps, err := pubsub.DialNATS(t.URL)
		if err != nil {
			return nil, nil, err
		}
		return start(pubsub.NewContext(ps, t.Name, t.Origin), func() { _ = ps.Close() })
	case config.KindRedis:
		opt, err := redis.ParseURL(t.URL)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(opt)
		ps := pubsub.NewRedisPubSub(ctx, client)
		return start(pubsub.NewContext(ps, t.Name, t.Origin), func() {
			_ = ps.Close()
			_ = client.Close()
		})
	case config.KindLibp2p:
		ps, err := pubsub.NewLibp2pPubSub(ctx, pubsub.Libp2pOptions{
			ListenAddrs:     t.ListenAddrs,
			Bootstrap:       t.Bootstrap,
			IdentityKeyFile: t.IdentityKeyFile,
			Logger:          zl,
		})
		if err != nil {
			return nil, nil, err
		}
		for _, addr := range ps.ListenAddrs() {
			fmt.Printf("listening on %s\n", addr)
		}
		return start(pubsub.NewContext(ps, t.Name, t.Origin), func() { _ = ps.Close() })
	default:
		return start(pubsub.NewContext(pubsub.NewMemoryPubSub(), t.Name, t.Origin), func() {})
	}
}

func start(c *pubsub.Context, closeBackend func()) (localContext, func(), error) {
	if err := c.Start(); err != nil {
		closeBackend()
		return nil, nil, err
	}
	return c, func() {
		c.Shutdown()
		closeBackend()
	}, nil
}
