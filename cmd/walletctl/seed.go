package main

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/punchamoorthee/payledger/internal/domain"
	"github.com/punchamoorthee/payledger/internal/security"
)

func seedCmd() *cobra.Command {
	var (
		accounts int
		balance  string
		password string
		outFile  string
		cards    bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Bulk-create funded accounts for local testing and benchmarks",
		Long: `Bulk-create accounts with wallets funded by a RECHARGE transaction each.

Rows are written with COPY. The generated account ids are written to --out,
one per line, for use with "walletctl bench". With --cards every account
also gets a test card (CVV 123, expiry 12/30) that authenticates with
--password on the external gateway.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			initial, err := decimal.NewFromString(balance)
			if err != nil {
				return fmt.Errorf("invalid --balance: %w", err)
			}
			if err := domain.ValidateAmount(initial); err != nil {
				return err
			}

			ctx := cmd.Context()
			st, err := openPostgres(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			pool := st.Pool()

			var existing int
			if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM accounts").Scan(&existing); err != nil {
				return fmt.Errorf("count accounts: %w", err)
			}
			if existing >= accounts {
				log.Info("database already seeded, skipping", zap.Int("accounts", existing))
				return nil
			}

			// Every seeded account shares one password hash and one CVV hash.
			hash, err := security.HashPassword(password)
			if err != nil {
				return err
			}
			cvvHash, err := security.HashPassword("123")
			if err != nil {
				return err
			}

			log.Info("generating accounts", zap.Int("count", accounts))
			now := time.Now().UTC()
			ids := make([]uuid.UUID, accounts)
			accountRows := make([][]interface{}, accounts)
			walletRows := make([][]interface{}, accounts)
			txnRows := make([][]interface{}, accounts)
			var cardRows [][]interface{}
			for i := range ids {
				id := uuid.New()
				ids[i] = id
				accountRows[i] = []interface{}{id, fmt.Sprintf("seed-%05d", i), hash, now}
				walletRows[i] = []interface{}{id, initial, now}
				txnRows[i] = []interface{}{
					uuid.New(), id, initial, string(domain.TypeRecharge), string(domain.StatusSuccess),
					"RCH_" + ulid.Make().String(), initial, now,
				}
				if cards {
					cardRows = append(cardRows, []interface{}{testCardNumber(), id, cvvHash, "12/30"})
				}
			}

			tx, err := pool.Begin(ctx)
			if err != nil {
				return fmt.Errorf("tx begin failed: %w", err)
			}
			defer tx.Rollback(ctx)

			copies := []struct {
				table   string
				columns []string
				rows    [][]interface{}
			}{
				{"accounts", []string{"id", "display_name", "password_hash", "created_at"}, accountRows},
				{"wallets", []string{"account_id", "balance", "updated_at"}, walletRows},
				{"transactions", []string{"id", "receiver_id", "amount", "type", "status", "reference_id", "receiver_balance_after", "created_at"}, txnRows},
				{"cards", []string{"card_number", "account_id", "cvv_hash", "expiry"}, cardRows},
			}
			for _, c := range copies {
				if len(c.rows) == 0 {
					continue
				}
				n, err := tx.CopyFrom(ctx, pgx.Identifier{c.table}, c.columns, pgx.CopyFromRows(c.rows))
				if err != nil {
					return fmt.Errorf("bulk insert into %s failed: %w", c.table, err)
				}
				log.Info("rows copied", zap.String("table", c.table), zap.Int64("rows", n))
			}
			if err := tx.Commit(ctx); err != nil {
				return fmt.Errorf("tx commit failed: %w", err)
			}

			if outFile != "" {
				if err := writeIDs(outFile, ids); err != nil {
					return err
				}
				log.Info("account ids written", zap.String("file", outFile))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&accounts, "accounts", "n", 1000, "number of accounts to create")
	cmd.Flags().StringVar(&balance, "balance", "100.00", "initial balance per account")
	cmd.Flags().StringVar(&password, "password", "password", "password for every seeded account")
	cmd.Flags().StringVarP(&outFile, "out", "o", "accounts.txt", "file receiving the generated account ids")
	cmd.Flags().BoolVar(&cards, "cards", false, "issue a test card per account")
	return cmd
}

// testCardNumber returns a random Luhn-valid 16 digit number in the 4000 test range.
func testCardNumber() string {
	digits := make([]byte, 15)
	copy(digits, "4000")
	for i := 4; i < len(digits); i++ {
		digits[i] = byte('0' + rand.Intn(10))
	}
	return string(digits) + string(security.LuhnCheckDigit(string(digits)))
}

func writeIDs(path string, ids []uuid.UUID) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, id := range ids {
		fmt.Fprintln(w, id.String())
	}
	return w.Flush()
}
