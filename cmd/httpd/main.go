package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	kyaml "sigs.k8s.io/yaml"

	"httpd/internal/accesslog"
	"httpd/internal/config"
	"httpd/internal/fileserver"
	"httpd/internal/geoip"
	"httpd/internal/logging"
	"httpd/internal/reload"
	"httpd/internal/server"
)

var (
	generateOutputPath    string
	generateConfigMapName string
	generateNamespace     string
)

func parseGenerateArgs(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	p := fs.String("out", "./httpd-rules-configmap.yml", "where to write the ConfigMap manifest")
	n := fs.String("namespace", "httpd", "Kubernetes namespace the ConfigMap is deployed into")
	c := fs.String("configmap-name", "httpd-rules", "name of the generated ConfigMap")

	if err := fs.Parse(args); err != nil {
		log.Fatal(err.Error())
	}

	generateOutputPath = *p
	generateNamespace = *n
	generateConfigMapName = *c
}

// generateConfigMap wraps the configured rule-source file in a Kubernetes
// ConfigMap manifest, for GitOps deployment of rule-source edits.
func generateConfigMap(logger *slog.Logger) error {
	confPath, ok := os.LookupEnv("CONFIG_PATH")
	if !ok {
		logger.Error("CONFIG_PATH environment variable is not set, exiting")
		os.Exit(1)
	}

	cfg, err := config.Load(logger, confPath)
	if err != nil {
		logger.Error("error parsing cfg file", "err", err.Error())
		return err
	}

	ruleSource, err := os.ReadFile(cfg.RuleSourcePath)
	if err != nil {
		logger.Error("error reading rule source", "path", cfg.RuleSourcePath, "err", err.Error())
		return err
	}

	logger.With("manifest_path", generateOutputPath).Info("generating manifest")
	cm := corev1.ConfigMap{
		TypeMeta: metav1.TypeMeta{
			Kind:       "ConfigMap",
			APIVersion: "v1",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      generateConfigMapName,
			Namespace: generateNamespace,
		},
		Data: map[string]string{
			"rules": string(ruleSource),
		},
	}

	m, err := kyaml.Marshal(cm)
	if err != nil {
		return err
	}

	f, err := os.Create(generateOutputPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(m)
	return err
}

func runServer(ctx context.Context, logger *slog.Logger) error {
	confPath, ok := os.LookupEnv("CONFIG_PATH")
	if !ok {
		logger.Error("CONFIG_PATH environment variable is not set, exiting")
		os.Exit(1)
	}

	cfg, err := config.Load(logger, confPath)
	if err != nil {
		logger.Error("error parsing cfg file", "err", err.Error())
		os.Exit(1)
	}

	go reload.Watch(ctx, logger, cfg)

	fs := fileserver.New(logger, cfg.DocumentRoot, cfg.DirectoryListing)

	var sink accesslog.Sink = accesslog.NoopSink{}
	if cfg.AccessLog.DriverDSN != "" {
		mysqlSink, err := accesslog.NewMySQLSink(logger, cfg.AccessLog.DriverDSN, cfg.AccessLog.Table)
		if err != nil {
			logger.Error("failed to open access log sink, falling back to noop", "err", err.Error())
		} else {
			sink = mysqlSink
			defer mysqlSink.Close()
		}
	}

	geo := geoip.New(cfg.GeoIP.Endpoint, time.Duration(cfg.GeoIP.TimeoutSeconds)*time.Second, time.Duration(cfg.Cache.TTL)*time.Second)

	srv := server.New(cfg, logger, fs, sink, geo)
	return srv.Run(ctx)
}

func run(ctx context.Context, args []string) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	logLevel := slog.LevelInfo
	logSrc := false
	if os.Getenv("DEBUG_LOGS") != "" {
		logLevel = slog.LevelDebug
		logSrc = true
	}
	logger := logging.New(logLevel, logSrc)

	if len(args) < 2 {
		return errors.New("usage: httpd [server|generate]")
	}

	switch args[1] {
	case "server":
		return runServer(ctx, logger)
	case "generate":
		parseGenerateArgs(args[2:])
		return generateConfigMap(logger)
	default:
		return errors.New("usage: httpd [server|generate]")
	}
}

func main() {
	if err := run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
