// Package catalog is the user-facing surface over the sync core: it narrows
// collections to what a user may see, runs image queries, and serves the
// aggregate species statistics.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/wildgrid/camsync/internal/config"
	"github.com/wildgrid/camsync/internal/logging"
	"github.com/wildgrid/camsync/internal/models"
	"github.com/wildgrid/camsync/internal/query"
)

// Shared settings files served through the config snapshot cache.
const (
	SpeciesFile   = "species.json"
	LocationsFile = "locations.json"
)

// statsExclusions are bookkeeping "species" recorded by field crews that
// must never appear in statistics.
var statsExclusions = map[string]bool{
	"Ghost": true,
	"None":  true,
	"Test":  true,
}

// Syncer is the slice of the sync orchestrator the catalog needs.
type Syncer interface {
	Collections(ctx context.Context) ([]models.Collection, error)
	Uploads(ctx context.Context, buckets []string) (map[string][]models.Upload, error)
	SpeciesStats(ctx context.Context) (map[string]int, error)
	ConfigFile(ctx context.Context, name string) ([]byte, error)
}

// Service answers catalog requests on top of the snapshot cache.
type Service struct {
	syncer Syncer
	cfg    *config.Config
	log    logging.Logger
	admins map[string]bool
}

func NewService(s Syncer, cfg *config.Config, log logging.Logger, admins []string) *Service {
	adminSet := make(map[string]bool, len(admins))
	for _, a := range admins {
		adminSet[a] = true
	}
	return &Service{syncer: s, cfg: cfg, log: log.With("component", "catalog"), admins: adminSet}
}

// GetCollections returns the collections username may read, each annotated
// with that user's own permission entry. Admins see every collection.
func (s *Service) GetCollections(ctx context.Context, username string) ([]models.Collection, error) {
	all, err := s.syncer.Collections(ctx)
	if err != nil {
		return nil, err
	}

	admin := s.admins[username]
	visible := make([]models.Collection, 0, len(all))
	for _, c := range all {
		idx := models.PermissionIndex(c.AllPermissions)
		if p, ok := idx[username]; ok {
			c.Permissions = p
			visible = append(visible, c)
			continue
		}
		if admin {
			c.Permissions = &models.Permission{Username: username, Owner: true, Read: true, Upload: true}
			visible = append(visible, c)
		}
	}
	return visible, nil
}

// GetSpeciesStats returns the cached species tallies with the bookkeeping
// entries removed.
func (s *Service) GetSpeciesStats(ctx context.Context) (map[string]int, error) {
	raw, err := s.syncer.SpeciesStats(ctx)
	if err != nil {
		return nil, err
	}
	stats := make(map[string]int, len(raw))
	for name, count := range raw {
		if statsExclusions[name] {
			continue
		}
		stats[name] = count
	}
	return stats, nil
}

// QueryResult is one finished query run. ID is a handle for result pagination
// and export, not a persistence key. Species and Locations carry the shared
// settings so downstream formatters need no second round trip; they are
// best-effort and may be empty.
type QueryResult struct {
	ID            string               `json:"id"`
	Uploads       []query.UploadImages `json:"uploads"`
	SpeciesCounts map[string]int       `json:"speciesCounts"`
	Species       []SpeciesEntry       `json:"species,omitempty"`
	Locations     []LocationEntry      `json:"locations,omitempty"`
}

// RunQuery filters the images of the user's visible collections. An empty
// collectionIDs slice means every visible collection.
func (s *Service) RunQuery(ctx context.Context, username string, collectionIDs []string, filters []query.Filter) (*QueryResult, error) {
	visible, err := s.GetCollections(ctx, username)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(collectionIDs))
	for _, id := range collectionIDs {
		wanted[id] = true
	}

	var buckets []string
	for _, c := range visible {
		if len(wanted) > 0 && !wanted[c.ID] {
			continue
		}
		buckets = append(buckets, c.Bucket)
	}
	sort.Strings(buckets)

	uploadsByBucket, err := s.syncer.Uploads(ctx, buckets)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}

	var uploads []models.Upload
	for _, bucket := range buckets {
		uploads = append(uploads, uploadsByBucket[bucket]...)
	}

	zone := time.FixedZone("", int(s.cfg.DefaultUTCOffset.Seconds()))
	results, err := query.Apply(uploads, filters, zone)
	if err != nil {
		return nil, err
	}

	res := &QueryResult{
		ID:            uuid.NewString(),
		Uploads:       results,
		SpeciesCounts: query.SpeciesCounts(results),
	}
	if species, err := s.SpeciesList(ctx); err == nil {
		res.Species = species
	} else {
		s.log.Warn(ctx, "species settings unavailable", "error", err)
	}
	if locations, err := s.LocationsList(ctx); err == nil {
		res.Locations = locations
	} else {
		s.log.Warn(ctx, "location settings unavailable", "error", err)
	}

	s.log.Info(ctx, "query finished", "user", username, "buckets", len(buckets), "matches", len(results))
	return res, nil
}

// SpeciesEntry is one row of the shared species settings file.
type SpeciesEntry struct {
	Name           string `json:"name"`
	ScientificName string `json:"scientificName"`
	KeyBinding     string `json:"keyBinding,omitempty"`
	Icon           string `json:"speciesIconURL,omitempty"`
}

// LocationEntry is one row of the shared locations settings file.
type LocationEntry struct {
	Name      string  `json:"nameProperty"`
	ID        string  `json:"idProperty"`
	Latitude  float64 `json:"latProperty"`
	Longitude float64 `json:"lngProperty"`
	Elevation float64 `json:"elevationProperty"`
}

// SpeciesList returns the shared species settings through the cache.
func (s *Service) SpeciesList(ctx context.Context) ([]SpeciesEntry, error) {
	data, err := s.syncer.ConfigFile(ctx, SpeciesFile)
	if err != nil {
		return nil, err
	}
	var entries []SpeciesEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("invalid species file: %w", err)
	}
	return entries, nil
}

// LocationsList returns the shared locations settings through the cache.
func (s *Service) LocationsList(ctx context.Context) ([]LocationEntry, error) {
	data, err := s.syncer.ConfigFile(ctx, LocationsFile)
	if err != nil {
		return nil, err
	}
	var entries []LocationEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("invalid locations file: %w", err)
	}
	return entries, nil
}
