package origin

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path"
	"strings"

	"github.com/goccy/go-json"

	"github.com/wildgrid/camsync/internal/models"
)

// Origin bucket/object layout. Collection buckets share a common prefix;
// each carries a collection manifest, a permissions manifest and per-upload
// CamTrap CSV files.
const (
	BucketPrefix         = "sparcd-"
	settingsBucketPrefix = BucketPrefix + "settings"
	legacySettingsBucket = "sparcd"
	settingsFolder       = "Settings"

	collectionsRoot = "Collections"
	uploadsPart     = "Uploads"

	collectionJSONName  = "collection.json"
	permissionsJSONName = "permissions.json"
	uploadMetaJSONName  = "UploadMeta.json"
	deploymentsCSVName  = "deployments.csv"
	observationsCSVName = "observations.csv"
)

// CamTrap CSV column positions and minimum widths.
const (
	deploymentLocationCol  = 1
	deploymentElevationCol = 12
	deploymentMinCols      = 23

	observationMediaCol      = 3
	observationTimestampCol  = 4
	observationScientificCol = 8
	observationCountCol      = 9
	observationCommentCol    = 19
	observationMinCols       = 20
)

const commonNameTag = "COMMONNAME:"

// collectionManifest is the collection.json shape on the origin.
type collectionManifest struct {
	ID           string `json:"idProperty"`
	Name         string `json:"nameProperty"`
	Organization string `json:"organizationProperty"`
	ContactInfo  string `json:"contactInfoProperty"`
	Description  string `json:"descriptionProperty"`
}

// uploadMeta is the UploadMeta.json shape on the origin.
type uploadMeta struct {
	UploadUser        string `json:"uploadUser"`
	Description       string `json:"description"`
	ImageCount        int    `json:"imageCount"`
	ImagesWithSpecies int    `json:"imagesWithSpecies"`
}

func joinPath(parts ...string) string {
	return strings.Join(parts, "/")
}

// baseName returns the last path element of a possibly slash-terminated key.
func baseName(key string) string {
	return path.Base(strings.TrimRight(key, "/\\"))
}

// CommonName extracts a species common name from an observation comment of
// the form "... [COMMONNAME:<name>] ...". Returns "" when absent.
func CommonName(comment string) string {
	l := strings.Index(comment, "[")
	r := strings.Index(comment, "]")
	c := strings.Index(comment, commonNameTag)
	if l < 0 || r < 0 || c < 0 || !(l < c && c < r) {
		return ""
	}
	return comment[c+len(commonNameTag) : r]
}

func parseCollectionManifest(data []byte) (*collectionManifest, error) {
	var m collectionManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid collection manifest: %w", err)
	}
	return &m, nil
}

func parsePermissions(data []byte) ([]models.Permission, error) {
	var perms []models.Permission
	if err := json.Unmarshal(data, &perms); err != nil {
		return nil, fmt.Errorf("invalid permissions manifest: %w", err)
	}
	return perms, nil
}

func parseUploadMeta(data []byte) (*uploadMeta, error) {
	var m uploadMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid upload metadata: %w", err)
	}
	return &m, nil
}

// parseDeployments reads the first full-width row of a deployments CSV and
// returns the location identifier and elevation (meters, verbatim).
func parseDeployments(data []byte) (location, elevation string, err error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return "", "", fmt.Errorf("invalid deployments csv: %w", err)
	}
	for _, row := range rows {
		if len(row) >= deploymentMinCols {
			return row[deploymentLocationCol], row[deploymentElevationCol], nil
		}
	}
	return "", "", fmt.Errorf("deployments csv has no usable row")
}

// parseObservations folds observation rows into per-image records, merging
// multiple species sightings of the same media file. Rows without both a
// scientific name and a count carry no observation data and are skipped.
func parseObservations(data []byte, bucket string) ([]models.Image, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid observations csv: %w", err)
	}

	var images []models.Image
	index := make(map[string]int)

	for _, row := range rows {
		if len(row) < observationMinCols {
			continue
		}
		if row[observationScientificCol] == "" || row[observationCountCol] == "" {
			continue
		}

		sp := models.Species{
			Name:           CommonName(row[observationCommentCol]),
			ScientificName: row[observationScientificCol],
			Count:          row[observationCountCol],
		}

		s3Path := row[observationMediaCol]
		if i, ok := index[s3Path]; ok {
			images[i].Species = append(images[i].Species, sp)
			continue
		}

		index[s3Path] = len(images)
		images = append(images, models.Image{
			Name:      baseName(s3Path),
			Bucket:    bucket,
			S3Path:    s3Path,
			Timestamp: row[observationTimestampCol],
			Species:   []models.Species{sp},
		})
	}

	return images, nil
}
