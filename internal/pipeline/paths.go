package pipeline

import (
	"strconv"

	"github.com/connexus-ai/kmemory/internal/documentstorage"
)

const statusFileName = "_pipeline_status.json"

// StatusPath is the well-known object the orchestrator persists a
// DataPipeline's status under (spec §6 "Persisted status format").
func StatusPath(index, documentID string) documentstorage.ObjectPath {
	return documentstorage.ObjectPath{Index: index, DocumentID: documentID, FileName: statusFileName}
}

// SourcePath addresses the raw bytes of an uploaded source file, written by
// RunPipelineAsync before any step runs.
func SourcePath(index, documentID, fileID string) documentstorage.ObjectPath {
	return documentstorage.ObjectPath{Index: index, DocumentID: documentID, FileName: fileID + "/source"}
}

// GeneratedPath addresses one artifact a step produced for a source file:
// extracted text, a partition, or a serialized embedding. tag is the
// GeneratedFile.Tags value; seq disambiguates multiple artifacts of the same
// tag for one file (partition/embedding number).
func GeneratedPath(index, documentID, fileID, tag string, seq int) documentstorage.ObjectPath {
	return documentstorage.ObjectPath{
		Index:      index,
		DocumentID: documentID,
		FileName:   fileID + "/" + tag + "/" + strconv.Itoa(seq),
	}
}
