package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/BaSui01/grantflow/config"
	"github.com/BaSui01/grantflow/orchestrator"
	"github.com/BaSui01/grantflow/workers"
	"github.com/BaSui01/grantflow/workflow"
)

// =============================================================================
// 🗺️ plan 命令：只规划不执行
// =============================================================================

func runPlan(args []string) {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	requestType := fs.String("type", "", "Request type")
	payloadPath := fs.String("payload", "", `JSON payload file, "-" for stdin`)
	format := fs.String("format", "yaml", "Output format: json or yaml")
	_ = fs.Parse(args)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	var payload map[string]any
	if *payloadPath != "" {
		if payload, err = readPayload(*payloadPath, os.Stdin); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read payload: %v\n", err)
			os.Exit(1)
		}
	}

	out, err := describePlan(cfg, *requestType, payload, *format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Plan failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out)
}

func readPayload(path string, stdin io.Reader) (map[string]any, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var payload map[string]any
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

// describePlan 用本地 worker 规划请求并序列化工作流图。
// 规划不调用任何 worker，图结构与服务端一致
func describePlan(cfg *config.Config, requestType string, payload map[string]any, format string) (string, error) {
	if requestType == "" {
		return "", errors.New("--type is required")
	}
	p, err := orchestrator.NewPlanner(orchestrator.Workers{
		Extractor: workers.LineExtractor{},
		Embedder:  workers.NewBagOfWordsEmbedder(0, nil),
		Searcher:  workers.NewMemoryIndex(nil),
		Generator: workers.TemplateGenerator{},
		Blobs:     planOnlyBlobs{},
	},
		orchestrator.WithRankingConfig(cfg.Ranking),
		orchestrator.WithComplianceConfig(cfg.Compliance),
		orchestrator.WithPlannerLogger(zap.NewNop()),
	)
	if err != nil {
		return "", err
	}
	g, _, err := p.Plan(requestType, payload)
	if err != nil {
		return "", err
	}

	def := workflow.Describe(g)
	switch format {
	case "json":
		return def.ToJSON()
	case "yaml", "":
		return def.ToYAML()
	default:
		return "", fmt.Errorf("unsupported format %q", format)
	}
}

// planOnlyBlobs 让需要 blob 存储的请求也能规划；plan 命令从不执行步骤
type planOnlyBlobs struct{}

var errPlanOnly = errors.New("blob storage is not available while planning")

func (planOnlyBlobs) StoreBlob(context.Context, []byte, string) (workers.Ref, error) {
	return "", errPlanOnly
}

func (planOnlyBlobs) FetchBlob(context.Context, workers.Ref) ([]byte, error) { return nil, errPlanOnly }

func (planOnlyBlobs) DeleteBlob(context.Context, workers.Ref) error { return errPlanOnly }
