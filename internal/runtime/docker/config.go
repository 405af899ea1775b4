package docker

import "tutorexec/internal/domain/execution"

const (
	DefaultImage     = "coding-tutor-sandbox:latest"
	DefaultMountPath = "/sandbox"
)

// Config describes how to create the Docker backend.
type Config struct {
	// Image is used for every language without an entry in Images.
	Image  string
	Images map[execution.Language]string
	// MountPath is where the workspace is bind-mounted and the working
	// directory of every container.
	MountPath string
	// User runs the program inside the container; empty keeps the image default.
	User          string
	DefaultLimits execution.RunLimits
}

func (c Config) withDefaults() Config {
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.MountPath == "" {
		c.MountPath = DefaultMountPath
	}
	c.DefaultLimits = c.DefaultLimits.Normalize()
	return c
}

func (c Config) imageFor(lang execution.Language) string {
	if img, ok := c.Images[lang]; ok && img != "" {
		return img
	}
	return c.Image
}
