package store

import (
	"bytes"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/IntelLabs/vdms-go/cmn"
)

// S3Store reproduces the local store's relative key layout under a bucket
// prefix.
type S3Store struct {
	client *s3.S3
	bucket string
}

// NewS3 builds the S3-backed store. cfg.EndpointOverride, when set, is
// used instead of the default AWS endpoint,
// which is also how tests point the client at a local fake.
func NewS3(cfg cmn.ObjectStoreConfig) (*S3Store, error) {
	awsCfg := aws.NewConfig()
	if cfg.Region != "" {
		awsCfg = awsCfg.WithRegion(cfg.Region)
	}
	if cfg.EndpointOverride != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.EndpointOverride).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, cmn.WrapErr(cmn.Exception, err, "store: creating aws session")
	}
	return &S3Store{client: s3.New(sess), bucket: cfg.Bucket}, nil
}

func (st *S3Store) Write(key string, data []byte) error {
	_, err := st.client.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(st.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return cmn.WrapErr(cmn.Exception, err, "store: s3 put %s", key)
	}
	return nil
}

func (st *S3Store) Read(key string) ([]byte, error) {
	out, err := st.client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(st.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, cmn.WrapErr(cmn.Exception, err, "store: s3 get %s", key)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, cmn.WrapErr(cmn.Exception, err, "store: s3 read %s", key)
	}
	return data, nil
}

func (st *S3Store) Delete(key string) error {
	_, err := st.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(st.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return cmn.WrapErr(cmn.Exception, err, "store: s3 delete %s", key)
	}
	return nil
}

func (st *S3Store) List(prefix string) ([]string, error) {
	var keys []string
	err := st.client.ListObjectsV2Pages(&s3.ListObjectsV2Input{
		Bucket: aws.String(st.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, last bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, cmn.WrapErr(cmn.Exception, err, "store: s3 list %s", prefix)
	}
	return keys, nil
}

func (st *S3Store) Size(key string) (int64, error) {
	out, err := st.client.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(st.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, cmn.WrapErr(cmn.Exception, err, "store: s3 head %s", key)
	}
	return aws.Int64Value(out.ContentLength), nil
}
