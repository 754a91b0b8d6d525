package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mpataki/clavier/internal/artifacts"
	"github.com/mpataki/clavier/internal/dataset"
	"github.com/mpataki/clavier/internal/dirs"
	"github.com/mpataki/clavier/internal/model"
	"github.com/mpataki/clavier/internal/perform"
	"github.com/mpataki/clavier/internal/pianoroll"
	"github.com/mpataki/clavier/internal/run"
	"github.com/mpataki/clavier/internal/serving"
	"github.com/mpataki/clavier/internal/storage"
	"github.com/mpataki/clavier/internal/tui"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clavier",
		Short: "Pianoroll training runs",
		Long:  "Clavier trains note-prediction models over pianoroll corpora, one resumable run directory at a time.",
		RunE:  runTUI,
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newCorpusCommand())
	rootCmd.AddCommand(newGenerateCommand())
	rootCmd.AddCommand(newServeCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openRegistry() (*dirs.Config, *storage.Registry, error) {
	cfg, err := dirs.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.EnsureDataDirs(); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	registry, err := storage.Open(cfg.RegistryPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open registry: %w", err)
	}

	return cfg, registry, nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	_, registry, err := openRegistry()
	if err != nil {
		return err
	}
	defer registry.Close()

	app := tui.NewApp(registry)
	p := tea.NewProgram(app, tea.WithAltScreen())

	_, err = p.Run()
	return err
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <dir>",
		Short: "Start or resume the training run in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, registry, err := openRegistry()
			if err != nil {
				return err
			}
			defer registry.Close()

			deps := run.Deps{Registry: registry}
			if cfg.Mirror.Endpoint != "" {
				mirror, err := artifacts.NewMirror(cfg.Mirror)
				if err != nil {
					return fmt.Errorf("failed to configure artifact mirror: %w", err)
				}
				if err := mirror.EnsureBucket(cmd.Context()); err != nil {
					return fmt.Errorf("failed to prepare mirror bucket: %w", err)
				}
				deps.Mirror = mirror
			}

			r, err := run.Open(args[0], deps)
			if err != nil {
				return err
			}
			defer r.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := r.Execute(ctx); err != nil {
				return err
			}

			fmt.Printf("Run completed at index %d\n", r.RunIndex())
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <dir>",
		Short: "Show the state of a run directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			st, err := run.ReadState(dir)
			if os.IsNotExist(err) {
				fmt.Printf("%s: fresh (no state record)\n", dir)
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Printf("Directory: %s\n", dir)
			fmt.Printf("Run index: %d\n", st.RunIndex)
			fmt.Printf("Status: %s\n", st.Status)

			_, registry, err := openRegistry()
			if err != nil {
				return err
			}
			defer registry.Close()

			cp, err := registry.LatestCheckpoint(dir)
			if err != nil {
				return err
			}
			if cp != nil {
				fmt.Printf("Last checkpoint: gen %d, batch %d/%d, loss %.5f (%s)\n",
					cp.RunIndex, cp.Batch, cp.TotalBatches, cp.Loss,
					cp.CreatedAt.Local().Format(time.DateTime))
			}

			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known run directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, registry, err := openRegistry()
			if err != nil {
				return err
			}
			defer registry.Close()

			runs, err := registry.List()
			if err != nil {
				return err
			}

			if len(runs) == 0 {
				fmt.Println("No runs found.")
				return nil
			}

			for _, info := range runs {
				fmt.Printf("%s  gen %d  [%s]\n", info.Dir, info.RunIndex, info.Status)
			}

			return nil
		},
	}
}

func newCorpusCommand() *cobra.Command {
	corpusCmd := &cobra.Command{
		Use:   "corpus",
		Short: "Corpus tools",
	}

	buildCmd := &cobra.Command{
		Use:   "build <midi-dir> <out>",
		Short: "Build a training corpus from a directory of MIDI files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			midiDir := args[0]
			out := args[1]
			minKey, _ := cmd.Flags().GetInt("min-key")
			numKeys, _ := cmd.Flags().GetInt("num-keys")
			resolution, _ := cmd.Flags().GetFloat64("resolution")
			padSeconds, _ := cmd.Flags().GetFloat64("pad")

			entries, err := os.ReadDir(midiDir)
			if err != nil {
				return fmt.Errorf("failed to read MIDI directory: %w", err)
			}

			var rolls []*pianoroll.Roll
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				ext := strings.ToLower(filepath.Ext(entry.Name()))
				if ext != ".mid" && ext != ".midi" {
					continue
				}

				path := filepath.Join(midiDir, entry.Name())
				roll, err := pianoroll.ReadSMF(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}
				rolls = append(rolls, roll)
				fmt.Printf("  %s: %d time steps\n", entry.Name(), roll.Steps())
			}

			if len(rolls) == 0 {
				return fmt.Errorf("no MIDI files found in %s", midiDir)
			}

			padSteps := perform.SecondsToSteps(padSeconds)
			corpus, err := dataset.BuildCorpus(rolls, minKey, numKeys, resolution, padSteps)
			if err != nil {
				return err
			}

			if err := corpus.Save(out); err != nil {
				return err
			}

			fmt.Printf("Wrote %s: %d pieces, %d time steps, %d keys at resolution %g\n",
				out, corpus.Pieces, corpus.TimeSteps, corpus.NumKeys, corpus.Resolution)
			return nil
		},
	}

	buildCmd.Flags().Int("min-key", 21, "Lowest MIDI key kept (21 = A0)")
	buildCmd.Flags().Int("num-keys", 88, "Number of keys kept")
	buildCmd.Flags().Float64("resolution", 1.0, "Time downsampling fraction in (0, 1]")
	buildCmd.Flags().Float64("pad", 2.0, "Seconds of silence around each piece")

	corpusCmd.AddCommand(buildCmd)
	return corpusCmd
}

func newGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a performance from a seed MIDI file",
		RunE: func(cmd *cobra.Command, args []string) error {
			modelPath, _ := cmd.Flags().GetString("model")
			seedPath, _ := cmd.Flags().GetString("seed")
			seconds, _ := cmd.Flags().GetFloat64("seconds")
			out, _ := cmd.Flags().GetString("out")
			minKey, _ := cmd.Flags().GetInt("min-key")

			m, err := model.Load(modelPath)
			if err != nil {
				return err
			}

			seed, err := pianoroll.ReadSMF(seedPath)
			if err != nil {
				return fmt.Errorf("failed to read seed: %w", err)
			}

			rng := rand.New(rand.NewSource(time.Now().UnixNano()))
			roll, err := perform.Generate(m, seed, perform.SecondsToSteps(seconds), minKey, rng)
			if err != nil {
				return err
			}

			if err := roll.WriteSMF(out); err != nil {
				return err
			}

			fmt.Printf("Wrote %s (%d time steps)\n", out, roll.Steps())
			return nil
		},
	}

	cmd.Flags().String("model", "", "Trained model file")
	cmd.Flags().String("seed", "", "Seed MIDI file")
	cmd.Flags().Float64("seconds", 10, "Seconds of material to generate")
	cmd.Flags().String("out", "performance.midi", "Output MIDI file")
	cmd.Flags().Int("min-key", 21, "Lowest MIDI key of the model's window")
	cmd.MarkFlagRequired("model")
	cmd.MarkFlagRequired("seed")
	return cmd
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the performance-generation HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := dirs.New()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if err := cfg.EnsureDataDirs(); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}

			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.ServeAddr = addr
			}

			log := slog.New(slog.NewTextHandler(os.Stderr, nil))
			app := serving.NewApp(cfg, log)

			srv := &http.Server{
				Addr:    cfg.ServeAddr,
				Handler: app.Handler(),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				log.Info("serving", "addr", cfg.ServeAddr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default from config)")
	return cmd
}
