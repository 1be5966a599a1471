package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"p2pStorageAudit/pkg/csp"
	"p2pStorageAudit/pkg/file"
	"p2pStorageAudit/pkg/ledger"
	"p2pStorageAudit/pkg/owner"
	"p2pStorageAudit/pkg/p2p"
	"p2pStorageAudit/pkg/scheme"
)

var (
	benchLines   int
	benchLength  int
	benchSchemes []string
	benchTamper  bool
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run every scheme end to end on local nodes",
	Long: `Start a provider and an owner node on the loopback interface and run
both audit phases for each scheme over generated data.

With --tamper each scheme is challenged a second time after one stored
block was overwritten, and must report the data as not intact.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		variants := scheme.Variants
		if len(benchSchemes) > 0 {
			variants = variants[:0:0]
			for _, name := range benchSchemes {
				v, err := scheme.ParseVariant(name)
				if err != nil {
					return err
				}
				variants = append(variants, v)
			}
		}
		b := &bench{
			lines:    benchLines,
			length:   benchLength,
			tamper:   benchTamper,
			opts:     cfg.SchemeOptions(),
			result:   newBenchResult(),
			variants: variants,
		}
		return b.run(cmd.Context())
	},
}

func init() {
	benchCmd.Flags().IntVarP(&benchLines, "lines", "n", 20, "Blocks per generated file")
	benchCmd.Flags().IntVarP(&benchLength, "length", "l", 1024, "Characters per block")
	benchCmd.Flags().StringSliceVarP(&benchSchemes, "schemes", "s", nil, "Schemes to run (default all)")
	benchCmd.Flags().BoolVar(&benchTamper, "tamper", true, "Also check that a modified block is detected")
	rootCmd.AddCommand(benchCmd)
}

type benchResult struct {
	mu        sync.Mutex
	total     int
	passed    int
	failed    int
	details   []string
	durations []string
	startTime time.Time
}

func newBenchResult() *benchResult {
	return &benchResult{startTime: time.Now()}
}

func (r *benchResult) recordSuccess(detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passed++
	r.total++
	r.details = append(r.details, "✓ "+detail)
}

func (r *benchResult) recordFailure(detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
	r.total++
	r.details = append(r.details, "✗ "+detail)
}

func (r *benchResult) recordDuration(v scheme.Variant, report *owner.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations = append(r.durations, fmt.Sprintf("%-22s Phase 1: %s  Phase 2: %s",
		v, owner.FormatDuration(report.PhaseOne), owner.FormatDuration(report.PhaseTwo)))
}

func (r *benchResult) printReport(lines, length int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Println("\n========================================")
	fmt.Println("Audit benchmark report")
	fmt.Println("========================================")
	fmt.Printf("  Blocks: %d x %d characters\n", lines, length)
	fmt.Printf("  Duration: %v\n\n", time.Since(r.startTime).Round(time.Millisecond))

	fmt.Printf("Results: %d total, %d passed, %d failed\n\n", r.total, r.passed, r.failed)
	if len(r.durations) > 0 {
		fmt.Println("Timings:")
		for _, d := range r.durations {
			fmt.Printf("  %s\n", d)
		}
		fmt.Println()
	}
	fmt.Println("Details:")
	for _, d := range r.details {
		fmt.Printf("  %s\n", d)
	}
	fmt.Println("========================================")
}

type bench struct {
	lines    int
	length   int
	tamper   bool
	opts     scheme.Options
	result   *benchResult
	variants []scheme.Variant
}

func (b *bench) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	config := p2p.NewP2PConfig()
	config.LoopbackOnly = true
	config.EnableAutoRefresh = false
	provider, err := p2p.NewP2PService(ctx, config)
	if err != nil {
		return xerrors.Errorf("start provider node: %w", err)
	}
	defer provider.Shutdown()

	node, err := p2p.NewP2PService(ctx, config)
	if err != nil {
		return xerrors.Errorf("start owner node: %w", err)
	}
	defer node.Shutdown()

	providerID, err := node.Resolve(ctx, p2p.GetHostAddress(provider.Host))
	if err != nil {
		return err
	}

	for _, v := range b.variants {
		store := file.NewMemoryBlockStore()
		provider.RegisterHandlers(csp.NewService(store, csp.WithSchemeOptions(b.opts)))
		b.runScheme(ctx, v, store, p2p.NewClient(node, providerID))
	}

	b.result.printReport(b.lines, b.length)
	if b.result.failed > 0 {
		return xerrors.Errorf("%d of %d checks failed", b.result.failed, b.result.total)
	}
	return nil
}

func (b *bench) runScheme(ctx context.Context, v scheme.Variant, store *file.MemoryBlockStore, client *p2p.Client) {
	s, err := scheme.New(v, b.opts)
	if err != nil {
		b.result.recordFailure(fmt.Sprintf("%s: %v", v, err))
		return
	}
	o := owner.New(owner.Options{
		Scheme:    s,
		Transport: client,
		Ledger:    ledger.New(ledger.NewMemoryStore(), ledger.WithVerifyOnRead(true)),
		Provider:  store,
	})
	blocks, err := b.generate()
	if err != nil {
		b.result.recordFailure(fmt.Sprintf("%s: %v", v, err))
		return
	}

	report, err := o.Run(ctx, blocks)
	switch {
	case err != nil:
		b.result.recordFailure(fmt.Sprintf("%s audit: %v", v, err))
		return
	case !report.Intact:
		b.result.recordFailure(fmt.Sprintf("%s audit: untouched data reported as modified", v))
	default:
		b.result.recordSuccess(fmt.Sprintf("%s audit", v))
	}
	b.result.recordDuration(v, report)

	if !b.tamper {
		return
	}
	store.Tamper(len(blocks)/2, []byte("tampered"))
	report, err = o.Challenge(ctx, report.FileID)
	switch {
	case err != nil:
		b.result.recordFailure(fmt.Sprintf("%s tamper check: %v", v, err))
	case report.Intact:
		b.result.recordFailure(fmt.Sprintf("%s tamper check: modified block not detected", v))
	default:
		b.result.recordSuccess(fmt.Sprintf("%s tamper check", v))
	}
}

// generate writes a random source file and reads it back as blocks.
func (b *bench) generate() ([][]byte, error) {
	dir, err := os.MkdirTemp("", "audit-bench-")
	if err != nil {
		return nil, xerrors.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "data.txt")
	if err := file.GenerateRandomFile(path, b.lines, b.length); err != nil {
		return nil, err
	}
	blocks, err := file.ReadBlocks(path)
	if err != nil {
		return nil, err
	}
	logrus.Debugf("Generated %d blocks for benchmark", len(blocks))
	return blocks, nil
}
