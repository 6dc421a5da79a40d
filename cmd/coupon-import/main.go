// Command coupon-import loads coupon definitions from gzip-compressed CSV
// files into the coupons table.
//
// Each line is: code,discount_type,value[,min_purchase[,max_uses[,valid_until]]]
// where valid_until is RFC 3339. Lines starting with # are skipped. A code
// defined in more than one file keeps its first definition in argument order.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-orders/internal/domain/coupon"
	"github.com/xenking/kart-orders/internal/repository"
)

const batchSize = 1000

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if flag.NArg() == 0 {
		slog.Error("usage: coupon-import [--database-url URL] FILE.csv.gz...")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, flag.Args()); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string) error {
	slog.Info("parsing coupon files", slog.Int("files", len(files)))

	parsed, err := parseFiles(ctx, files)
	if err != nil {
		return errors.Wrap(err, "parse files")
	}

	coupons := dedupe(parsed)
	slog.Info("unique coupons", slog.Int("count", len(coupons)))

	if len(coupons) == 0 {
		slog.Info("no coupons to import")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	return writeCoupons(ctx, repository.NewCouponRepository(pool), coupons)
}

// parseFiles parses every file concurrently. Results keep argument order.
func parseFiles(ctx context.Context, files []string) ([][]coupon.Coupon, error) {
	results := make([][]coupon.Coupon, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			coupons, err := readFile(ctx, path)
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			slog.Info("parsed file", slog.String("path", path), slog.Int("coupons", len(coupons)))
			results[i] = coupons
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

type couponWriter interface {
	UpsertBatch(ctx context.Context, coupons []coupon.Coupon) error
}

func writeCoupons(ctx context.Context, repo couponWriter, coupons []coupon.Coupon) error {
	slog.Info("writing coupons to database", slog.Int("count", len(coupons)))

	for start := 0; start < len(coupons); start += batchSize {
		end := min(start+batchSize, len(coupons))
		if err := repo.UpsertBatch(ctx, coupons[start:end]); err != nil {
			return errors.Wrapf(err, "upsert batch at %d", start)
		}
		slog.Info("write progress", slog.Int("written", end), slog.Int("total", len(coupons)))
	}
	return nil
}
