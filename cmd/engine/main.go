// Command engine runs the execution engine end to end: it loads
// configuration, dials every configured chain, and blocks consuming
// opportunities from the queue until terminated.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	arbengine "github.com/duneflow/arbengine"
	"github.com/duneflow/arbengine/configs"
	"github.com/duneflow/arbengine/internal/util"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.String("config", "configs/config.yml", "path to the engine's YAML config file")
	envFile := pflag.String("env-file", ".env", "path to an optional .env file with ARBENGINE_-prefixed overrides")
	pflag.Parse()

	zapLogger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("build logger: %v", err))
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if err := run(*configPath, *envFile, log); err != nil {
		log.Fatalw("engine exited with error", "error", err)
	}
}

func run(configPath, envFile string, log *zap.SugaredLogger) error {
	cfg, err := configs.Load(configPath, envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	encryptedPK := os.Getenv("ENC_PK")
	if encryptedPK == "" {
		return fmt.Errorf("ENC_PK not set")
	}
	encKey := os.Getenv("KEY")
	if encKey == "" {
		return fmt.Errorf("KEY not set")
	}
	rawKey, err := util.Decrypt([]byte(encKey), encryptedPK)
	if err != nil {
		return fmt.Errorf("decrypt ENC_PK: %w", err)
	}
	privateKey, err := crypto.HexToECDSA(rawKey)
	if err != nil {
		return fmt.Errorf("parse decrypted private key: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := arbengine.New(ctx, cfg, privateKey, log)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infow("received shutdown signal", "signal", sig.String())
		cancel()
		eng.Shutdown()
	}()

	log.Infow("engine starting", "environment", cfg.Environment, "standby", cfg.Standby.IsStandby)
	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("engine run: %w", err)
	}
	return nil
}
