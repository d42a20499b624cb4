package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bracket-qos/pkg/db"
	"bracket-qos/pkg/model"
)

// reportRow keeps the latest report of each kind as a JSON body.
type reportRow struct {
	Kind      string `gorm:"primaryKey;size:32"`
	ReportID  string `gorm:"size:64"`
	Timestamp time.Time
	Body      string `gorm:"type:longtext"`
}

func (reportRow) TableName() string { return "bus_reports" }

type limitsMeta struct {
	Name    string `gorm:"primaryKey;size:32"`
	Version int64
}

func (limitsMeta) TableName() string { return "limits_meta" }

const (
	kindTree       = "tree"
	kindDuplicates = "duplicate_ip"
	kindUnmapped   = "unmapped_clients"
)

// GormStore persists the bus in MySQL.
type GormStore struct {
	db *gorm.DB
}

// NewMySQLStore connects using the MYSQL_* environment and migrates the
// bus tables.
func NewMySQLStore() (*GormStore, error) {
	g, err := db.Init(&model.SiteLimit{}, &model.APLimit{}, &reportRow{}, &limitsMeta{})
	if err != nil {
		return nil, err
	}
	return NewGormStore(g), nil
}

// NewGormStore wraps an already migrated connection.
func NewGormStore(g *gorm.DB) *GormStore { return &GormStore{db: g} }

func (s *GormStore) saveReport(kind, id string, ts time.Time, r any) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	row := reportRow{Kind: kind, ReportID: id, Timestamp: ts, Body: string(b)}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *GormStore) SaveTree(r model.TreeReport) error {
	return s.saveReport(kindTree, r.ID, r.Timestamp, r)
}

func (s *GormStore) SaveDuplicates(r model.DuplicateIPReport) error {
	return s.saveReport(kindDuplicates, r.ID, r.Timestamp, r)
}

func (s *GormStore) SaveUnmapped(r model.UnmappedReport) error {
	return s.saveReport(kindUnmapped, r.ID, r.Timestamp, r)
}

func (s *GormStore) Reports() (model.BusReports, error) {
	var rows []reportRow
	if err := s.db.Find(&rows).Error; err != nil {
		return model.BusReports{}, err
	}
	var out model.BusReports
	for _, row := range rows {
		var err error
		switch row.Kind {
		case kindTree:
			out.Tree = &model.TreeReport{}
			err = json.Unmarshal([]byte(row.Body), out.Tree)
		case kindDuplicates:
			out.Duplicates = &model.DuplicateIPReport{}
			err = json.Unmarshal([]byte(row.Body), out.Duplicates)
		case kindUnmapped:
			out.Unmapped = &model.UnmappedReport{}
			err = json.Unmarshal([]byte(row.Body), out.Unmapped)
		}
		if err != nil {
			return model.BusReports{}, fmt.Errorf("decode %s report: %w", row.Kind, err)
		}
	}
	return out, nil
}

func (s *GormStore) ShaperConfig() (model.ShaperConfig, error) {
	cfg := model.ShaperConfig{Sites: []model.SiteLimit{}, AccessPoints: []model.APLimit{}}
	if err := s.db.Order("id").Find(&cfg.Sites).Error; err != nil {
		return model.ShaperConfig{}, err
	}
	if err := s.db.Order("id").Find(&cfg.AccessPoints).Error; err != nil {
		return model.ShaperConfig{}, err
	}
	return cfg, nil
}

// upsert writes v and bumps the version in one transaction.
func (s *GormStore) upsert(v any) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(v).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			DoUpdates: clause.Assignments(map[string]any{"version": gorm.Expr("version + 1")}),
		}).Create(&limitsMeta{Name: "limits", Version: 1}).Error
	})
}

func (s *GormStore) UpsertSiteLimit(l model.SiteLimit) error {
	if l.ID == "" {
		return ErrInvalidLimit
	}
	return s.upsert(&l)
}

func (s *GormStore) UpsertAPLimit(l model.APLimit) error {
	if l.ID == "" {
		return ErrInvalidLimit
	}
	return s.upsert(&l)
}

func (s *GormStore) LimitsVersion() (int64, error) {
	var meta limitsMeta
	err := s.db.Where("name = ?", "limits").Limit(1).Find(&meta).Error
	return meta.Version, err
}

func (s *GormStore) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
