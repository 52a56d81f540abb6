package models

// Catalogue of known resources and actions. Permission maps are rejected at
// write time when they reference anything outside this table.
var PermissionCatalog = map[string][]string{
	"users":          {"view", "add", "change", "delete"},
	"roles":          {"view", "add", "change", "delete"},
	"students":       {"view", "add", "change", "delete"},
	"teachers":       {"view", "add", "change", "delete"},
	"attendance":     {"view", "add", "change"},
	"exams":          {"view", "add", "change"},
	"grades":         {"view", "add", "change"},
	"courses":        {"view", "add", "change"},
	"classes":        {"view", "add", "change"},
	"fees":           {"view", "add", "change"},
	"library":        {"view", "add", "change", "issue_book", "return_book", "delete"},
	"transport":      {"view", "add", "change"},
	"communications": {"view", "add"},
	"reports":        {"view", "generate"},
	"audit":          {"view"},
}

// FullCatalog returns a fresh permission map covering the whole catalogue.
func FullCatalog() PermissionMap {
	full := make(PermissionMap, len(PermissionCatalog))
	for res, actions := range PermissionCatalog {
		full[res] = append([]string(nil), actions...)
	}
	return full
}

// ValidatePermissions checks every resource/action against the catalogue and
// returns the first offender, or empty strings when the map is clean.
func ValidatePermissions(perms PermissionMap) (resource, action string, ok bool) {
	for res, actions := range perms {
		known, found := PermissionCatalog[res]
		if !found {
			return res, "", false
		}
		for _, a := range actions {
			allowed := false
			for _, k := range known {
				if k == a {
					allowed = true
					break
				}
			}
			if !allowed {
				return res, a, false
			}
		}
	}
	return "", "", true
}

// SystemRoles are seeded at bootstrap. Admin's map is expanded to the full
// catalogue during seeding.
func SystemRoles() map[string]PermissionMap {
	admin := PermissionMap{}
	for res, actions := range PermissionCatalog {
		admin[res] = append([]string(nil), actions...)
	}
	return map[string]PermissionMap{
		"Admin": admin,
		"Teacher": {
			"students":       {"view"},
			"attendance":     {"view", "add", "change"},
			"exams":          {"view", "add", "change"},
			"grades":         {"view", "add", "change"},
			"courses":        {"view"},
			"classes":        {"view"},
			"communications": {"view", "add"},
			"reports":        {"view", "generate"},
		},
		"Staff": {
			"students":       {"view", "add", "change"},
			"teachers":       {"view", "add", "change"},
			"attendance":     {"view", "add", "change"},
			"courses":        {"view", "add", "change"},
			"classes":        {"view", "add", "change"},
			"fees":           {"view", "add", "change"},
			"library":        {"view", "add", "change"},
			"transport":      {"view", "add", "change"},
			"communications": {"view", "add"},
			"reports":        {"view", "generate"},
		},
		"Parent": {
			"students":       {"view"},
			"attendance":     {"view"},
			"exams":          {"view"},
			"grades":         {"view"},
			"courses":        {"view"},
			"fees":           {"view"},
			"communications": {"view", "add"},
			"reports":        {"view"},
		},
		"Student": {
			"attendance":     {"view"},
			"exams":          {"view"},
			"grades":         {"view"},
			"courses":        {"view"},
			"classes":        {"view"},
			"fees":           {"view"},
			"library":        {"view"},
			"communications": {"view", "add"},
		},
	}
}
