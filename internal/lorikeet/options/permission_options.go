package options

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/lorikeet-ai/lorikeet/internal/core/permission"
)

// PermissionOptions is the permission configuration block. Master users are
// [platform, user_id] pairs; masters pass every permission check.
type PermissionOptions struct {
	MasterUsers [][]string `json:"master_users" mapstructure:"master_users"`
}

// NewPermissionOptions returns an empty master list.
func NewPermissionOptions() *PermissionOptions {
	return &PermissionOptions{}
}

// Validate checks PermissionOptions fields.
func (o *PermissionOptions) Validate() []error {
	var errs []error
	for i, pair := range o.MasterUsers {
		if len(pair) != 2 || pair[0] == "" || pair[1] == "" {
			errs = append(errs, fmt.Errorf("master_users[%d] must be a [platform, user_id] pair", i))
		}
	}
	return errs
}

// UserRefs converts the configured pairs into manager refs.
func (o *PermissionOptions) UserRefs() []permission.UserRef {
	refs := make([]permission.UserRef, 0, len(o.MasterUsers))
	for _, pair := range o.MasterUsers {
		if len(pair) == 2 {
			refs = append(refs, permission.UserRef{Platform: pair[0], UserID: pair[1]})
		}
	}
	return refs
}

// AddFlags is a no-op: master users are config-file only, pairs do not map
// onto flag values.
func (o *PermissionOptions) AddFlags(_ *pflag.FlagSet) {}
