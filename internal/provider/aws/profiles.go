package aws

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/go-ini/ini"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/skyquery/internal/provider"
)

// defaultConfigFiles returns the shared config and credentials file paths,
// honoring AWS_CONFIG_FILE and AWS_SHARED_CREDENTIALS_FILE.
func defaultConfigFiles() []string {
	home, _ := os.UserHomeDir()

	configFile := os.Getenv("AWS_CONFIG_FILE")
	if configFile == "" {
		configFile = filepath.Join(home, ".aws", "config")
	}
	credsFile := os.Getenv("AWS_SHARED_CREDENTIALS_FILE")
	if credsFile == "" {
		credsFile = filepath.Join(home, ".aws", "credentials")
	}
	return []string{configFile, credsFile}
}

// ListProfiles returns the named profiles found in the shared files,
// sorted, with "default" first. Unreadable files are skipped.
func (p *Provider) ListProfiles() []string {
	seen := map[string]bool{"default": true}
	var names []string

	for _, path := range p.configFiles {
		f, err := ini.LooseLoad(path)
		if err != nil {
			log.Debug().Err(err).Str("file", path).Msg("skip unreadable aws config")
			continue
		}
		for _, section := range f.SectionStrings() {
			name := profileName(section)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return append([]string{"default"}, names...)
}

// profileName maps "profile dev" (config file) and "dev" (credentials
// file) to "dev". Non-profile sections yield "".
func profileName(section string) string {
	section = strings.TrimSpace(section)
	switch {
	case section == ini.DefaultSection:
		return ""
	case strings.HasPrefix(section, "profile "):
		return strings.TrimSpace(strings.TrimPrefix(section, "profile "))
	case strings.HasPrefix(section, "sso-session ") || strings.HasPrefix(section, "services "):
		return ""
	default:
		return section
	}
}

// TestProfile verifies the profile's credentials with STS.
func (p *Provider) TestProfile(ctx context.Context, profile string) (provider.ProfileInfo, error) {
	c, err := p.clientsFor(ctx, profile)
	if err != nil {
		return provider.ProfileInfo{Profile: profile}, err
	}

	output, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return provider.ProfileInfo{Profile: profile}, fmt.Errorf("get caller identity: %w", err)
	}

	return provider.ProfileInfo{
		Profile: profile,
		Account: aws.ToString(output.Account),
		ARN:     aws.ToString(output.Arn),
		UserID:  aws.ToString(output.UserId),
	}, nil
}
