package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/pixelaug/internal/domain"
	"github.com/dunamismax/pixelaug/internal/storage"
)

const SourceTypeS3Presigned = domain.SourceTypeS3Presigned

// ObjectStore is the slice of storage.Client the object stages use.
type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

var _ ObjectStore = (*storage.Client)(nil)

type ObjectStoreFetcher struct {
	Storage ObjectStore
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request, source string) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if !strings.EqualFold(req.SourceType, SourceTypeS3Presigned) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, source)
}

type ObjectStoreEmitter struct {
	Storage      ObjectStore
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, item Item, r Rendered) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}

	objectKey := path.Join(
		storage.OutputPrefix(e.OutputPrefix),
		sanitizePathToken(req.JobID),
		outputName(item, r.Format),
	)
	if err := e.Storage.WriteObject(ctx, objectKey, r.Data, contentTypeForFormat(r.Format)); err != nil {
		return Output{}, err
	}

	return renderedOutput(item, r, objectKey), nil
}

func NewObjectStoreProcessor(store ObjectStore, outputPrefix string, opts ...Option) (*Processor, error) {
	return NewProcessor(
		ObjectStoreFetcher{Storage: store},
		ObjectStoreEmitter{Storage: store, OutputPrefix: outputPrefix},
		opts...,
	)
}
