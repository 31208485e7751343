package security

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

type ParamClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// GetParam reads a (possibly SecureString) SSM parameter.
func GetParam(ctx context.Context, c ParamClient, name string) (string, error) {
	out, err := c.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm GetParameter %s: %w", name, err)
	}
	if out.Parameter == nil {
		return "", fmt.Errorf("ssm parameter %s has no value", name)
	}
	return strings.TrimSpace(aws.ToString(out.Parameter.Value)), nil
}

// LoadSealer builds a Sealer from an inline base64 key or, failing that, from
// the SSM parameter holding one. It returns nil when neither is configured.
func LoadSealer(ctx context.Context, c ParamClient, keyB64, keyParam string) (*Sealer, error) {
	if strings.TrimSpace(keyB64) == "" && strings.TrimSpace(keyParam) != "" {
		if c == nil {
			return nil, fmt.Errorf("key parameter %s set but no ssm client", keyParam)
		}
		v, err := GetParam(ctx, c, keyParam)
		if err != nil {
			return nil, err
		}
		keyB64 = v
	}
	if strings.TrimSpace(keyB64) == "" {
		return nil, nil
	}

	key, err := LoadKeyFromBase64(keyB64)
	if err != nil {
		return nil, err
	}
	return NewSealer(key)
}
