package store

import (
	"errors"
	"fmt"
	"slices"

	"gorm.io/gorm"

	"github.com/preheatd/preheatd/internal/logger"
	"github.com/preheatd/preheatd/pkg/model"
)

const insertBatchSize = 500

// Save writes the full registry and correlation model in one transaction,
// replacing the previous contents. A failed save leaves the previously
// committed state untouched.
func (s *Store) Save(reg *model.Registry, mdl *model.Model, now int64) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// Full replace: the model is small (thousands of rows) and a
		// wholesale rewrite is simpler to keep atomic than diffing.
		for _, row := range []any{&ExeMapRow{}, &MarkovRow{}, &BadExeRow{}, &MapRow{}, &ExeRow{}, &StateRow{}} {
			if err := tx.Where("1 = 1").Delete(row).Error; err != nil {
				return fmt.Errorf("clearing table: %w", err)
			}
		}

		if err := tx.Create(&StateRow{ID: 1, Version: schemaVersion, Time: now}).Error; err != nil {
			return fmt.Errorf("writing metadata row: %w", err)
		}

		var exeRows []ExeRow
		var exeMapRows []ExeMapRow
		for e := range reg.KnownExes() {
			exeRows = append(exeRows, ExeRow{
				Seq:        int64(e.Seq),
				UpdateTime: e.UpdateTime,
				Time:       e.StartTime,
				RunTime:    e.RunTime,
				URI:        e.URI,
			})
			for _, em := range sortedExeMaps(e) {
				exeMapRows = append(exeMapRows, ExeMapRow{
					Seq:    int64(em.ExeSeq),
					MapSeq: int64(em.MapSeq),
					Prob:   em.Prob,
				})
			}
		}
		if err := createAll(tx, exeRows); err != nil {
			return fmt.Errorf("writing exes: %w", err)
		}
		if err := createAll(tx, exeMapRows); err != nil {
			return fmt.Errorf("writing exemaps: %w", err)
		}

		var mapRows []MapRow
		for m := range reg.KnownMaps() {
			mapRows = append(mapRows, MapRow{
				Seq:        int64(m.Seq),
				UpdateTime: m.UpdateTime,
				Offset:     m.Offset,
				Length:     m.Length,
				URI:        m.URI,
			})
		}
		if err := createAll(tx, mapRows); err != nil {
			return fmt.Errorf("writing maps: %w", err)
		}

		bad := reg.BadExes()
		badURIs := make([]string, 0, len(bad))
		for uri := range bad {
			badURIs = append(badURIs, uri)
		}
		slices.Sort(badURIs)
		badRows := make([]BadExeRow, 0, len(badURIs))
		for _, uri := range badURIs {
			badRows = append(badRows, BadExeRow{UpdateTime: bad[uri], URI: uri})
		}
		if err := createAll(tx, badRows); err != nil {
			return fmt.Errorf("writing badexes: %w", err)
		}

		var markovRows []MarkovRow
		for _, ms := range mdl.Pairs() {
			ttl, err := encodeTimeToLeave(ms.TimeToLeave)
			if err != nil {
				return err
			}
			weight, err := encodeWeight(ms.Weight)
			if err != nil {
				return err
			}
			markovRows = append(markovRows, MarkovRow{
				ASeq:        int64(ms.A),
				BSeq:        int64(ms.B),
				Time:        ms.Time,
				TimeToLeave: ttl,
				Weight:      weight,
			})
		}
		if err := createAll(tx, markovRows); err != nil {
			return fmt.Errorf("writing markovstates: %w", err)
		}

		return nil
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("persisting model: identity constraint violated: %w", err)
		}
		return fmt.Errorf("persisting model: %w", err)
	}

	logger.Debug("model persisted",
		logger.Int("exes", reg.CountExes()),
		logger.Int("maps", reg.CountMaps()),
		logger.Int("pairs", mdl.CountPairs()),
	)
	return nil
}

// Load rebuilds a registry and model from the database. An empty database
// yields fresh empty instances. A schema version mismatch aborts the load;
// an individually corrupt row (dangling association, undecodable correlation
// payload) is skipped with a warning, since that slice of the model can be
// relearned.
func (s *Store) Load(regCfg model.RegistryConfig, mdlCfg model.ModelConfig) (*model.Registry, *model.Model, error) {
	reg := model.NewRegistry(regCfg)
	mdl := model.NewModel(mdlCfg)

	var state StateRow
	if err := s.db.First(&state, "id = ?", 1).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reg, mdl, nil
		}
		return nil, nil, fmt.Errorf("reading metadata row: %w", err)
	}
	if state.Version != schemaVersion {
		return nil, nil, fmt.Errorf("%w: database has %d, this build expects %d",
			ErrSchemaVersion, state.Version, schemaVersion)
	}

	var exeRows []ExeRow
	if err := s.db.Order("seq").Find(&exeRows).Error; err != nil {
		return nil, nil, fmt.Errorf("reading exes: %w", err)
	}
	for _, r := range exeRows {
		err := reg.RestoreExe(&model.Exe{
			Seq:        model.Seq(r.Seq),
			URI:        r.URI,
			UpdateTime: r.UpdateTime,
			StartTime:  r.Time,
			RunTime:    r.RunTime,
		})
		if err != nil {
			logger.Warn("skipping exe row", logger.Exe(r.URI), logger.Err(err))
		}
	}

	var mapRows []MapRow
	if err := s.db.Order("seq").Find(&mapRows).Error; err != nil {
		return nil, nil, fmt.Errorf("reading maps: %w", err)
	}
	for _, r := range mapRows {
		err := reg.RestoreMap(&model.Map{
			Seq:        model.Seq(r.Seq),
			URI:        r.URI,
			Offset:     r.Offset,
			Length:     r.Length,
			UpdateTime: r.UpdateTime,
		})
		if err != nil {
			logger.Warn("skipping map row", logger.Map(r.URI), logger.Err(err))
		}
	}

	var exeMapRows []ExeMapRow
	if err := s.db.Order("seq, map_seq").Find(&exeMapRows).Error; err != nil {
		return nil, nil, fmt.Errorf("reading exemaps: %w", err)
	}
	for _, r := range exeMapRows {
		if err := reg.RestoreExeMap(model.Seq(r.Seq), model.Seq(r.MapSeq), r.Prob); err != nil {
			logger.Warn("skipping exemap row", logger.Err(err))
		}
	}

	var badRows []BadExeRow
	if err := s.db.Find(&badRows).Error; err != nil {
		return nil, nil, fmt.Errorf("reading badexes: %w", err)
	}
	for _, r := range badRows {
		reg.RestoreBadExe(r.URI, r.UpdateTime)
	}

	var markovRows []MarkovRow
	if err := s.db.Order("a_seq, b_seq").Find(&markovRows).Error; err != nil {
		return nil, nil, fmt.Errorf("reading markovstates: %w", err)
	}
	for _, r := range markovRows {
		ttl, err := decodeTimeToLeave(r.TimeToLeave)
		if err != nil {
			logger.Warn("skipping corrupt correlation row",
				logger.Pair(model.Seq(r.ASeq), model.Seq(r.BSeq)), logger.Err(err))
			continue
		}
		weight, err := decodeWeight(r.Weight)
		if err != nil {
			logger.Warn("skipping corrupt correlation row",
				logger.Pair(model.Seq(r.ASeq), model.Seq(r.BSeq)), logger.Err(err))
			continue
		}
		ms := &model.MarkovState{
			A:           model.Seq(r.ASeq),
			B:           model.Seq(r.BSeq),
			Time:        r.Time,
			TimeToLeave: ttl,
			Weight:      weight,
		}
		if err := mdl.RestorePair(ms); err != nil {
			logger.Warn("skipping correlation row",
				logger.Pair(model.Seq(r.ASeq), model.Seq(r.BSeq)), logger.Err(err))
		}
	}

	logger.Info("model loaded",
		logger.Int("exes", reg.CountExes()),
		logger.Int("maps", reg.CountMaps()),
		logger.Int("pairs", mdl.CountPairs()),
	)
	return reg, mdl, nil
}

func createAll[T any](tx *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(rows, insertBatchSize).Error
}

func sortedExeMaps(e *model.Exe) []*model.ExeMap {
	out := make([]*model.ExeMap, 0, len(e.Maps))
	for _, em := range e.Maps {
		out = append(out, em)
	}
	// Map iteration order is random; persist deterministically.
	slices.SortFunc(out, func(a, b *model.ExeMap) int {
		return int(a.MapSeq - b.MapSeq)
	})
	return out
}
