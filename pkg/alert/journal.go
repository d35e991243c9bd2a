package alert

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	batchSize     = 50
	batchInterval = 2 * time.Second
	queueSize     = 1000
)

// Record is one fired country alert.
type Record struct {
	CountryCode string
	Country     string
	IP          string
	ASN         string
	ASName      string
	AlertedAt   time.Time
}

// Journal batch-writes fired alerts to PostgreSQL. It is an optional sink:
// write failures are logged and never propagate into the alert path.
type Journal struct {
	db    *sql.DB
	log   *logrus.Logger
	queue chan Record
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	running bool

	// Stats
	written uint64
	dropped uint64
	batches uint64
}

// NewJournal connects to PostgreSQL and prepares the journal.
func NewJournal(databaseURL string, log *logrus.Logger) (*Journal, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if log == nil {
		log = logrus.New()
	}
	return &Journal{
		db:    db,
		log:   log,
		queue: make(chan Record, queueSize),
		done:  make(chan struct{}),
	}, nil
}

// Start begins the background writer goroutine.
func (j *Journal) Start() {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return
	}
	j.running = true
	j.mu.Unlock()

	j.wg.Add(1)
	go j.writerLoop()
	j.log.Info("alert journal started")
}

// Stop flushes remaining records and closes the connection.
func (j *Journal) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	j.mu.Unlock()

	close(j.done)
	j.wg.Wait()
	j.db.Close()
	j.log.WithFields(logrus.Fields{
		"written": j.written,
		"dropped": j.dropped,
		"batches": j.batches,
	}).Info("alert journal stopped")
}

// Write queues a record. A full queue drops the record rather than blocking
// the alert path.
func (j *Journal) Write(rec Record) {
	select {
	case j.queue <- rec:
	default:
		j.dropped++
		j.log.Warn("alert journal queue full, dropping record")
	}
}

// Stats returns journal statistics.
func (j *Journal) Stats() map[string]interface{} {
	return map[string]interface{}{
		"written":   j.written,
		"dropped":   j.dropped,
		"batches":   j.batches,
		"queue_len": len(j.queue),
	}
}

func (j *Journal) writerLoop() {
	defer j.wg.Done()

	batch := make([]Record, 0, batchSize)
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-j.queue:
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				j.writeBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				j.writeBatch(batch)
				batch = batch[:0]
			}

		case <-j.done:
			// Flush remaining records
			close(j.queue)
			for rec := range j.queue {
				batch = append(batch, rec)
				if len(batch) >= batchSize {
					j.writeBatch(batch)
					batch = batch[:0]
				}
			}
			if len(batch) > 0 {
				j.writeBatch(batch)
			}
			return
		}
	}
}

func (j *Journal) writeBatch(batch []Record) {
	if len(batch) == 0 {
		return
	}

	tx, err := j.db.Begin()
	if err != nil {
		j.log.WithError(err).Warn("alert journal: begin failed")
		return
	}
	defer tx.Rollback()

	written := 0
	for _, rec := range batch {
		if j.writeRecord(tx, rec) {
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		j.log.WithError(err).Warn("alert journal: commit failed")
		return
	}

	j.written += uint64(written)
	j.batches++
}

func (j *Journal) writeRecord(tx *sql.Tx, rec Record) bool {
	_, err := tx.Exec(`
		INSERT INTO country_alerts (
			country_code, country, ip, asn, as_name,
			first_alerted_at, last_alerted_at, alert_count
		) VALUES ($1, $2, $3, $4, $5, $6, $6, 1)
		ON CONFLICT (country_code) DO UPDATE SET
			last_alerted_at = EXCLUDED.last_alerted_at,
			ip = EXCLUDED.ip,
			alert_count = country_alerts.alert_count + 1
	`,
		rec.CountryCode,
		rec.Country,
		rec.IP,
		rec.ASN,
		rec.ASName,
		rec.AlertedAt,
	)
	if err != nil {
		j.log.WithError(err).WithField("country", rec.CountryCode).Warn("alert journal: insert failed")
		return false
	}
	return true
}
