package rbac

import "github.com/finovant/paydesk/internal/models"

// Permission is a string capability checked by the gate and the resolver.
type Permission = string

// Tenant-scoped permissions. The set is fixed; tenants configure gating
// policy per action, never the permission table itself.
const (
	PermTenantView        Permission = "tenant:view"
	PermReportsView       Permission = "reports:view"
	PermAuditView         Permission = "audit:view"
	PermAuditExport       Permission = "audit:export"
	PermRefundsCreate     Permission = "refunds:create"
	PermRefundsApprove    Permission = "refunds:approve"
	PermPayoutsCreate     Permission = "payouts:create"
	PermPayoutsApprove    Permission = "payouts:approve"
	PermCredentialsRotate Permission = "credentials:rotate"
	PermMembersManage     Permission = "members:manage"
	PermPoliciesManage    Permission = "policies:manage"
	PermApprovalsView     Permission = "approvals:view"
	PermApprovalsDecide   Permission = "approvals:decide"
	PermAlertsView        Permission = "alerts:view"
	PermAlertsManage      Permission = "alerts:manage"
)

// roleTable is the single declarative role→permission mapping. Per-screen
// conditionals elsewhere in the console must defer to this table.
var roleTable = map[models.Role][]Permission{
	models.RoleOwner: {
		PermTenantView, PermReportsView, PermAuditView, PermAuditExport,
		PermRefundsCreate, PermRefundsApprove, PermPayoutsCreate, PermPayoutsApprove,
		PermCredentialsRotate, PermMembersManage, PermPoliciesManage,
		PermApprovalsView, PermApprovalsDecide, PermAlertsView, PermAlertsManage,
	},
	models.RoleManager: {
		PermTenantView, PermReportsView, PermAuditView,
		PermRefundsCreate, PermRefundsApprove, PermPayoutsCreate,
		PermApprovalsView, PermApprovalsDecide, PermAlertsView,
	},
	models.RoleFinance: {
		PermTenantView, PermReportsView, PermAuditView, PermAuditExport,
		PermRefundsCreate, PermPayoutsCreate, PermApprovalsView,
	},
	models.RoleDeveloper: {
		PermTenantView, PermAuditView, PermCredentialsRotate,
	},
	models.RoleViewer: {
		PermTenantView, PermReportsView,
	},
}

// ownerFloor is the role-floor override: permissions an owner can always
// exercise in their tenant regardless of future table edits. The covered
// operations mirror the owner escape hatches of the console; the exact set
// is configuration the product team owns, not derivable here.
var ownerFloor = map[Permission]struct{}{
	PermApprovalsDecide: {},
	PermMembersManage:   {},
	PermPoliciesManage:  {},
	PermAlertsManage:    {},
}

// readOnlyPermissions is the subset safe to retain under impersonation.
// Impersonation is read-only as a hard invariant, so everything else is
// stripped regardless of the underlying role.
var readOnlyPermissions = map[Permission]struct{}{
	PermTenantView:    {},
	PermReportsView:   {},
	PermAuditView:     {},
	PermApprovalsView: {},
	PermAlertsView:    {},
}

// partnerReadPermissions is what a read-scope partner grant conveys.
var partnerReadPermissions = []Permission{
	PermTenantView, PermReportsView, PermAuditView,
}

// partnerReadWritePermissions adds the limited write surface of a
// read_write partner grant.
var partnerReadWritePermissions = append(
	append([]Permission{}, partnerReadPermissions...),
	PermAuditExport, PermApprovalsView,
)

// allPermissions is the full capability set, granted to super admins outside
// impersonation.
var allPermissions = roleTable[models.RoleOwner]

// RolePermissions returns a copy of the permissions mapped to the role.
func RolePermissions(role models.Role) []Permission {
	perms, ok := roleTable[role]
	if !ok {
		return nil
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// IsReadOnly reports whether the permission survives the impersonation filter.
func IsReadOnly(perm Permission) bool {
	_, ok := readOnlyPermissions[perm]
	return ok
}

// OwnerFloor reports whether the permission is covered by the owner
// role-floor override.
func OwnerFloor(perm Permission) bool {
	_, ok := ownerFloor[perm]
	return ok
}

func filterReadOnly(perms []Permission) []Permission {
	out := make([]Permission, 0, len(perms))
	for _, perm := range perms {
		if IsReadOnly(perm) {
			out = append(out, perm)
		}
	}
	return out
}
