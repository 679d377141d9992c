package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"market-analysis-engine/internal/models"
)

// AnalysisRecord is the persisted form of one finished analysis.
type AnalysisRecord struct {
	ID                int64
	StockSymbol       string
	Exchange          string
	AnalysisTimestamp time.Time
	AnalysisType      string
	CurrentPrice      float64
	AIAnalysis        *models.Decision
	Signals           map[string]models.AgentResult
	SectorContext     map[string]interface{}
	MTFContext        map[string]interface{}
	Meta              models.DecisionMeta
}

// Store is the persistence sink the orchestrator writes to.
type Store interface {
	SaveAnalysis(ctx context.Context, rec *AnalysisRecord) error
	RecentAnalyses(ctx context.Context, symbol string, limit int) ([]AnalysisRecord, error)
}

// Repository is the PostgreSQL-backed store.
type Repository struct {
	db *DB
}

// NewRepository builds a repository over the pool.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveAnalysis inserts one analysis record.
func (r *Repository) SaveAnalysis(ctx context.Context, rec *AnalysisRecord) error {
	aiJSON, err := json.Marshal(rec.AIAnalysis)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	signalsJSON, err := json.Marshal(rec.Signals)
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}
	sectorJSON, _ := json.Marshal(rec.SectorContext)
	mtfJSON, _ := json.Marshal(rec.MTFContext)
	metaJSON, _ := json.Marshal(rec.Meta)

	const q = `
	INSERT INTO analyses (
		stock_symbol, exchange, analysis_timestamp, analysis_type,
		current_price, ai_analysis, signals, sector_context, mtf_context, meta
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	RETURNING id`
	return r.db.Pool.QueryRow(ctx, q,
		rec.StockSymbol, rec.Exchange, rec.AnalysisTimestamp, rec.AnalysisType,
		rec.CurrentPrice, aiJSON, signalsJSON, sectorJSON, mtfJSON, metaJSON,
	).Scan(&rec.ID)
}

// RecentAnalyses returns the latest records for a symbol, newest first.
func (r *Repository) RecentAnalyses(ctx context.Context, symbol string, limit int) ([]AnalysisRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
	SELECT id, stock_symbol, exchange, analysis_timestamp, analysis_type,
	       current_price, ai_analysis, signals, sector_context, mtf_context, meta
	FROM analyses
	WHERE stock_symbol = $1
	ORDER BY analysis_timestamp DESC
	LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer rows.Close()

	var out []AnalysisRecord
	for rows.Next() {
		var rec AnalysisRecord
		var aiJSON, signalsJSON, sectorJSON, mtfJSON, metaJSON []byte
		if err := rows.Scan(
			&rec.ID, &rec.StockSymbol, &rec.Exchange, &rec.AnalysisTimestamp,
			&rec.AnalysisType, &rec.CurrentPrice,
			&aiJSON, &signalsJSON, &sectorJSON, &mtfJSON, &metaJSON,
		); err != nil {
			return nil, fmt.Errorf("scan analysis row: %w", err)
		}
		rec.AIAnalysis = &models.Decision{}
		if err := json.Unmarshal(aiJSON, rec.AIAnalysis); err != nil {
			return nil, fmt.Errorf("unmarshal decision: %w", err)
		}
		if len(signalsJSON) > 0 {
			_ = json.Unmarshal(signalsJSON, &rec.Signals)
		}
		if len(sectorJSON) > 0 {
			_ = json.Unmarshal(sectorJSON, &rec.SectorContext)
		}
		if len(mtfJSON) > 0 {
			_ = json.Unmarshal(mtfJSON, &rec.MTFContext)
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &rec.Meta)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// NoopStore drops everything; used when persistence is disabled.
type NoopStore struct{}

func (NoopStore) SaveAnalysis(context.Context, *AnalysisRecord) error { return nil }
func (NoopStore) RecentAnalyses(context.Context, string, int) ([]AnalysisRecord, error) {
	return nil, nil
}
