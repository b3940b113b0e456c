package eventlog

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"lendfarm/core/events"
	"lendfarm/core/types"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultLimit = 100
	maxLimit     = 1000
)

var ErrUnknownDriver = errors.New("eventlog: unknown driver")

// Record is the persisted form of a committed event.
type Record struct {
	Seq        uint64 `gorm:"primaryKey;autoIncrement"`
	Digest     string `gorm:"size:64;index"`
	Type       string `gorm:"size:64;index"`
	Height     uint64 `gorm:"index"`
	Account    string `gorm:"size:128;index"`
	Attributes string `gorm:"type:text"`
	CreatedAt  time.Time
}

func (Record) TableName() string { return "flywheel_events" }

// Entry is a stored event together with its content digest.
type Entry struct {
	Seq    uint64       `json:"seq"`
	Digest string       `json:"digest"`
	Event  *types.Event `json:"event"`
}

// Filter narrows a query. Zero fields match everything.
type Filter struct {
	Account    string
	Type       string
	FromHeight uint64
	Limit      int
}

// Store appends committed events to a SQL table and serves them back.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the configured driver and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("eventlog: nil database")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("eventlog: migrate: %w", err)
	}
	return &Store{db: db, logger: slog.Default()}, nil
}

func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger.With(slog.String("component", "eventlog"))
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Write failures are logged; the action that
// produced the event has already committed.
func (s *Store) Emit(evt events.Event) {
	payload := events.PayloadOf(evt)
	if payload == nil {
		return
	}
	if err := s.Append(context.Background(), payload); err != nil {
		s.logger.Error("append event failed",
			slog.String("type", payload.Type),
			slog.Uint64("height", payload.Height),
			slog.Any("error", err))
	}
}

// Append stores the events in one transaction.
func (s *Store) Append(ctx context.Context, evts ...*types.Event) error {
	records := make([]Record, 0, len(evts))
	for _, evt := range evts {
		if evt == nil {
			continue
		}
		attrs, err := json.Marshal(evt.Attributes)
		if err != nil {
			return fmt.Errorf("eventlog: encode attributes: %w", err)
		}
		records = append(records, Record{
			Digest:     Digest(evt),
			Type:       evt.Type,
			Height:     evt.Height,
			Account:    evt.Attributes["account"],
			Attributes: string(attrs),
		})
	}
	if len(records) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&records).Error
}

// Query returns matching events in commit order.
func (s *Store) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	q := s.db.WithContext(ctx).Model(&Record{}).Where("height >= ?", filter.FromHeight)
	if filter.Account != "" {
		q = q.Where("account = ?", filter.Account)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	var records []Record
	if err := q.Order("seq asc").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("eventlog: query: %w", err)
	}
	out := make([]Entry, 0, len(records))
	for _, rec := range records {
		attrs := map[string]string{}
		if rec.Attributes != "" {
			if err := json.Unmarshal([]byte(rec.Attributes), &attrs); err != nil {
				return nil, fmt.Errorf("eventlog: decode attributes of %d: %w", rec.Seq, err)
			}
		}
		out = append(out, Entry{
			Seq:    rec.Seq,
			Digest: rec.Digest,
			Event:  &types.Event{Type: rec.Type, Height: rec.Height, Attributes: attrs},
		})
	}
	return out, nil
}

// Digest returns the hex blake3 hash of the event's canonical form: type,
// height and attributes sorted by key.
func Digest(evt *types.Event) string {
	keys := make([]string, 0, len(evt.Attributes))
	for k := range evt.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(evt.Type)
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(evt.Height, 10))
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(evt.Attributes[k])
	}
	sum := blake3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
