package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/turtacn/nerruler/internal/application/annotate"
	apperrors "github.com/turtacn/nerruler/pkg/errors"
)

func TestMapAppError(t *testing.T) {
	tests := []struct {
		code apperrors.ErrorCode
		want codes.Code
	}{
		{apperrors.ErrCodeInvalidDoc, codes.InvalidArgument},
		{apperrors.ErrCodeMalformedEvaluationInput, codes.InvalidArgument},
		{apperrors.ErrCodeUnknownLabel, codes.NotFound},
		{apperrors.ErrCodeStoreNotReady, codes.Unavailable},
		{apperrors.ErrCodeTimeout, codes.DeadlineExceeded},
		{apperrors.ErrCodeFeatureDisabled, codes.FailedPrecondition},
		{apperrors.ErrCodeInternal, codes.Internal},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := mapAppError(apperrors.New(tt.code, "boom"))
			assert.Equal(t, tt.want, status.Code(err))
		})
	}

	assert.Nil(t, mapAppError(nil))
	already := status.Error(codes.Canceled, "gone")
	assert.Equal(t, already, mapAppError(already))

	st, _ := status.FromError(mapAppError(apperrors.New(apperrors.ErrCodeInternal, "secret")))
	assert.Equal(t, "internal error", st.Message())
}

func TestJSONCodecRegistered(t *testing.T) {
	codec := encoding.GetCodec(CodecName)
	require.NotNil(t, codec)

	data, err := codec.Marshal(&AnnotateRequest{AnnotateInput: annotate.AnnotateInput{ID: "d", Text: "x"}})
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "x", raw["text"])

	var back AnnotateRequest
	require.NoError(t, codec.Unmarshal(data, &back))
	assert.Equal(t, "d", back.ID)
}

func TestDetectRequestValidate(t *testing.T) {
	assert.Error(t, (&DetectRequest{}).Validate())
	assert.NoError(t, (&DetectRequest{Label: "DATE"}).Validate())
}
