package secret

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretmanagerpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GoogleSecretManager resolves targets against Google Secret Manager. A target
// is either a full version resource name or a bare secret name, in which case
// the latest version within the configured project is read.
type GoogleSecretManager struct {
	projectID string
	client    *secretmanager.Client
}

var _ Source = (*GoogleSecretManager)(nil)

func NewGoogleSecretManager(ctx context.Context, projectID, credentialsFile string) (*GoogleSecretManager, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	c, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize google secret manager client: %w", err)
	}

	return &GoogleSecretManager{client: c, projectID: projectID}, nil
}

func (m *GoogleSecretManager) Get(ctx context.Context, target string) (Secret, error) {
	accessRequest := &secretmanagerpb.AccessSecretVersionRequest{
		Name: versionName(m.projectID, target),
	}

	r, err := m.client.AccessSecretVersion(ctx, accessRequest)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, accessRequest.Name)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to access secret: %w", err)
	}

	return r.Payload.Data, nil
}

func (m *GoogleSecretManager) Close() { _ = m.client.Close() }

func versionName(projectID, target string) string {
	if strings.HasPrefix(target, "projects/") {
		return target
	}

	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, target)
}
