package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVoucherQRKey(t *testing.T) {
	assert.Equal(t, "vouchers/qr/b1/v1.png", VoucherQRKey("b1", "v1"))
	assert.Equal(t, "vouchers/qr/b1/x.png", VoucherQRKey("b1", "../x"))
}

func TestPublicObjectURL(t *testing.T) {
	s := &S3{cfg: S3Config{Region: "eu-west-1"}}
	assert.Equal(t, "https://assets.s3.eu-west-1.amazonaws.com/vouchers/qr/b/v.png", s.PublicObjectURL("assets", "vouchers/qr/b/v.png"))
}
