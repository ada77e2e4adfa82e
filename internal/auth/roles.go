package auth

// permissions are strings like "job:submit", "job:read_own", "admin:*"
const (
	PermJobSubmit  = "job:submit"
	PermJobReadOwn = "job:read_own"
	PermJobReadAll = "job:read_all"
	PermAdminAll   = "admin:*"
)

var roleToPerms = map[string][]string{
	"user":  {PermJobSubmit, PermJobReadOwn},
	"admin": {PermJobSubmit, PermJobReadAll, PermAdminAll},
}

func PermsForRoles(roles []string) map[string]struct{} {
	out := make(map[string]struct{}, 8)
	for _, r := range roles {
		if perms, ok := roleToPerms[r]; ok {
			for _, p := range perms {
				out[p] = struct{}{}
			}
		}
	}
	return out
}
