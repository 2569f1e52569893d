package s3blob

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Stat reports object metadata. The archiver uses it to confirm an upload
// landed before deleting the source rows.
type Stat struct {
	c *Client
}

func NewStat(c *Client) *Stat {
	return &Stat{c: c}
}

// Size returns the stored object's size, or found=false when it is missing.
func (s *Stat) Size(ctx context.Context, path string) (size int64, found bool, err error) {
	out, err := s.c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.c.bucket),
		Key:    aws.String(s.c.objectKey(path)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("s3blob: head %s: %w", path, err)
	}
	return aws.ToInt64(out.ContentLength), true, nil
}

// isNotFound matches NoSuchKey, NotFound and bare 404 replies from
// compatible providers.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var httpErr interface{ HTTPStatusCode() int }
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == http.StatusNotFound
}
