package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type benchConfig struct {
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	idsFile     string
	amount      string
	jwtSecret   string
}

// benchCounters are updated atomically by every worker.
type benchCounters struct {
	total     uint64
	created   uint64 // 201
	replayed  uint64 // 200
	conflicts uint64 // 409
	rejected  uint64 // 422, insufficient balance or capacity
	other     uint64
}

func benchCmd() *cobra.Command {
	cfg := benchConfig{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Drive concurrent transfers against a running API",
		Long: `Drive concurrent wallet-to-wallet transfers against a running API.

Accounts are read from the file written by "walletctl seed". The uniform
workload picks random pairs; the hotspot workload sends 90% of traffic
between the first two accounts to measure lock contention. Results are
printed as JSON and saved to results_<workload>.json.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.jwtSecret == "" {
				cfg.jwtSecret = os.Getenv("JWT_SECRET")
			}
			if cfg.jwtSecret == "" {
				return fmt.Errorf("no signing secret: pass --jwt-secret or set JWT_SECRET")
			}
			if cfg.workload != "uniform" && cfg.workload != "hotspot" {
				return fmt.Errorf("unknown workload %q: want uniform or hotspot", cfg.workload)
			}
			ids, err := readIDs(cfg.idsFile)
			if err != nil {
				return err
			}
			if len(ids) < 2 {
				return fmt.Errorf("need at least 2 accounts in %s, found %d", cfg.idsFile, len(ids))
			}
			tokens, err := signTokens(cfg.jwtSecret, ids, cfg.duration+time.Hour)
			if err != nil {
				return err
			}

			log.Info("starting benchmark",
				zap.String("workload", cfg.workload),
				zap.Int("workers", cfg.concurrency),
				zap.Duration("duration", cfg.duration))

			var counters benchCounters
			start := time.Now()
			var wg sync.WaitGroup
			wg.Add(cfg.concurrency)
			for i := 0; i < cfg.concurrency; i++ {
				go benchWorker(&wg, cfg, ids, tokens, &counters, start)
			}
			wg.Wait()

			return writeResults(cfg.workload, time.Since(start), &counters)
		},
	}
	cmd.Flags().StringVar(&cfg.targetURL, "url", "http://localhost:8080", "API base URL")
	cmd.Flags().IntVarP(&cfg.concurrency, "workers", "w", 10, "number of concurrent workers")
	cmd.Flags().DurationVarP(&cfg.duration, "duration", "d", 30*time.Second, "test duration")
	cmd.Flags().StringVar(&cfg.workload, "workload", "uniform", "workload type: uniform | hotspot")
	cmd.Flags().StringVarP(&cfg.idsFile, "accounts", "a", "accounts.txt", "file of account ids written by seed")
	cmd.Flags().StringVar(&cfg.amount, "amount", "1.00", "amount per transfer")
	cmd.Flags().StringVar(&cfg.jwtSecret, "jwt-secret", "", "session signing secret (default $JWT_SECRET)")
	return cmd
}

func benchWorker(wg *sync.WaitGroup, cfg benchConfig, ids []uuid.UUID, tokens map[uuid.UUID]string, c *benchCounters, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	endpoint := strings.TrimRight(cfg.targetURL, "/") + "/api/v1/transfers"

	for time.Since(start) < cfg.duration {
		from, to := pickPair(cfg.workload, ids)
		body, _ := json.Marshal(map[string]string{
			"receiver_id": to.String(),
			"amount":      cfg.amount,
		})

		req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			atomic.AddUint64(&c.other, 1)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tokens[from])
		req.Header.Set("Idempotency-Key", uuid.NewString())

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&c.other, 1)
			continue
		}

		atomic.AddUint64(&c.total, 1)
		switch resp.StatusCode {
		case http.StatusCreated:
			atomic.AddUint64(&c.created, 1)
		case http.StatusOK:
			atomic.AddUint64(&c.replayed, 1)
		case http.StatusConflict:
			atomic.AddUint64(&c.conflicts, 1)
		case http.StatusUnprocessableEntity:
			atomic.AddUint64(&c.rejected, 1)
		default:
			atomic.AddUint64(&c.other, 1)
		}
		resp.Body.Close()
	}
}

func pickPair(workload string, ids []uuid.UUID) (uuid.UUID, uuid.UUID) {
	if workload == "hotspot" && rand.Float32() < 0.90 {
		if rand.Float32() < 0.5 {
			return ids[0], ids[1]
		}
		return ids[1], ids[0]
	}
	a := rand.Intn(len(ids))
	b := rand.Intn(len(ids))
	for a == b {
		b = rand.Intn(len(ids))
	}
	return ids[a], ids[b]
}

// signTokens mints one session per account so every worker acts as the sender.
func signTokens(secret string, ids []uuid.UUID, ttl time.Duration) (map[uuid.UUID]string, error) {
	exp := jwt.NewNumericDate(time.Now().Add(ttl))
	out := make(map[uuid.UUID]string, len(ids))
	for _, id := range ids {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   id.String(),
			ExpiresAt: exp,
		})
		signed, err := tok.SignedString([]byte(secret))
		if err != nil {
			return nil, fmt.Errorf("sign session: %w", err)
		}
		out[id] = signed
	}
	return out, nil
}

func readIDs(path string) ([]uuid.UUID, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var ids []uuid.UUID
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		id, err := uuid.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid account id %q: %w", path, line, err)
		}
		ids = append(ids, id)
	}
	return ids, sc.Err()
}

func writeResults(workload string, d time.Duration, c *benchCounters) error {
	total := atomic.LoadUint64(&c.total)
	conflicts := atomic.LoadUint64(&c.conflicts)

	var abortRate float64
	if total > 0 {
		abortRate = float64(conflicts) / float64(total) * 100
	}
	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  float64(total) / d.Seconds(),
		"success_created": atomic.LoadUint64(&c.created),
		"success_replay":  atomic.LoadUint64(&c.replayed),
		"aborts_conflict": conflicts,
		"abort_rate_pct":  abortRate,
		"rejected":        atomic.LoadUint64(&c.rejected),
		"errors":          atomic.LoadUint64(&c.other),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create %s: %w", filename, err)
	}
	defer file.Close()
	return json.NewEncoder(file).Encode(results)
}
