package bootstrap

import (
	"testing"

	"marketplace/internal/config"
	"marketplace/internal/service"

	"github.com/stretchr/testify/assert"
)

func TestImageLimits(t *testing.T) {
	defaults := service.DefaultImageLimits()

	tests := []struct {
		name string
		cfg  config.Config
		want service.ImageLimits
	}{
		{
			name: "zero values keep defaults",
			cfg:  config.Config{},
			want: service.ImageLimits{
				MaxCreate:      defaults.MaxCreate,
				MaxUpdate:      defaults.MaxUpdate,
				LatestMaxLimit: defaults.LatestMaxLimit,
			},
		},
		{
			name: "overrides",
			cfg:  config.Config{MaxCreateImages: 3, MaxUpdateImages: 4, LatestPostsMaxLimit: 20, UploadVerifyImages: true},
			want: service.ImageLimits{MaxCreate: 3, MaxUpdate: 4, LatestMaxLimit: 20, VerifyImages: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ImageLimits(&tt.cfg))
		})
	}
}
