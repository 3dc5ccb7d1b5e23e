package models

// Species is one observation row attached to an image. Count stays a string
// because the origin CSV carries it verbatim and downstream formatting does
// not do arithmetic on it.
type Species struct {
	Name           string `json:"name"`
	ScientificName string `json:"scientificName"`
	Count          string `json:"count"`
}

// Image is one camera-trap picture inside an upload. Timestamp is the raw
// observation value; parsing and timezone normalization happen query-side.
type Image struct {
	Name      string    `json:"name"`
	Bucket    string    `json:"bucket"`
	S3Path    string    `json:"s3Path"`
	Timestamp string    `json:"timestamp"`
	Species   []Species `json:"species"`
}

// Upload is a per-bucket upload with its full image inventory, the unit of
// partition for the uploads snapshot scope.
type Upload struct {
	Bucket      string  `json:"bucket"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Location    string  `json:"loc"`
	Elevation   string  `json:"elevation"`
	ImagesCount int     `json:"imageCount"`
	Images      []Image `json:"images"`
}
