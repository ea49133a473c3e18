package inmemdb

import (
	"context"

	"github.com/google/uuid"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/user"
)

var userOrderings = map[string]comparator[user.User]{
	"name":       func(a, b user.User) int { return compareFolded(a.Name, b.Name) },
	"username":   func(a, b user.User) int { return compareFolded(a.Username, b.Username) },
	"email":      func(a, b user.User) int { return compareFolded(a.Email, b.Email) },
	"is_active":  func(a, b user.User) int { return compareBools(a.IsActive, b.IsActive) },
	"created_at": func(a, b user.User) int { return compareTimes(a.CreatedAt, b.CreatedAt) },
	"last_login": func(a, b user.User) int { return compareTimes(a.LastLogin, b.LastLogin) },
}

type userRepository struct {
	db *table[user.User]
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db.user}
}

func copyUser(usr user.User) user.User {
	usr.Roles = append([]string{}, usr.Roles...)
	return usr
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []user.User) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	excluded := make(map[string]bool, len(excludedUsers))
	for _, usr := range excludedUsers {
		excluded[usr.ID] = true
	}

	var unameTaken, emailTaken bool
	for _, usr := range repo.db.rows {
		if excluded[usr.ID] {
			continue
		}
		if username != "" && usr.Username == username {
			unameTaken = true
		}
		if email != "" && usr.Email == email {
			emailTaken = true
		}
	}
	switch {
	case unameTaken && emailTaken:
		return user.ErrUserExists
	case unameTaken:
		return user.ErrUsernameExists
	case emailTaken:
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	usr.ID = uuid.NewString()
	repo.db.rows[usr.ID] = copyUser(usr)
	return usr, nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	users := repo.db.all(func(usr user.User) bool {
		return filter == nil || matchUser(usr, filter)
	})
	for i := range users {
		users[i] = copyUser(users[i])
	}
	orderBy(users, ordering, userOrderings, core.DBOrdering{Field: "created_at"})
	return users, nil
}

func matchUser(usr user.User, filter *user.QueryFilter) bool {
	if filter.IDs != nil && !core.ContainsString(filter.IDs, usr.ID) {
		return false
	}
	if filter.Search != "" &&
		!containsFolded(usr.Name, filter.Search) &&
		!containsFolded(usr.Username, filter.Search) &&
		!containsFolded(usr.Email, filter.Search) {
		return false
	}
	if len(filter.Roles) > 0 {
		var found bool
		for _, prefix := range filter.Roles {
			if usr.RoleStartsWith(prefix) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
		return false
	}
	return inRange(usr.CreatedAt, filter.CreatedFrom, filter.CreatedTo)
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if usr, ok := repo.db.rows[filter.ID]; ok {
			return copyUser(usr), nil
		}
		return user.User{}, user.ErrNotFound
	}
	for _, usr := range repo.db.rows {
		switch {
		case filter.Username != "" && usr.Username == filter.Username,
			filter.Email != "" && usr.Email == filter.Email,
			filter.UsernameOrEmail != "" && (usr.Username == filter.UsernameOrEmail || usr.Email == filter.UsernameOrEmail):
			return copyUser(usr), nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.rows[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	repo.db.rows[usr.ID] = copyUser(usr)
	return usr, nil
}

func (repo *userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for id, existing := range repo.db.rows {
		if (usr.Username != "" && existing.Username == usr.Username) || (usr.Email != "" && existing.Email == usr.Email) {
			usr.ID = id
			usr.CreatedAt = existing.CreatedAt
			repo.db.rows[id] = copyUser(usr)
			return usr, nil
		}
	}
	if usr.ID == "" {
		usr.ID = uuid.NewString()
	}
	repo.db.rows[usr.ID] = copyUser(usr)
	return usr, nil
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids []string) (int, error) {
	return repo.db.deleteIDs(ids), nil
}

func compareBools(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}
