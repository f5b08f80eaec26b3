package services

import (
	"errors"
	"fmt"

	domain "github.com/groupdine/api/internal/domain"
	"github.com/groupdine/api/internal/repositories"
)

var (
	// ErrTeamCartInvalidInput indicates the caller supplied invalid input.
	ErrTeamCartInvalidInput = errors.New("team cart service: invalid input")
	// ErrTeamCartNotFound indicates the cart or a referenced entity does not exist.
	ErrTeamCartNotFound = errors.New("team cart service: not found")
	// ErrTeamCartForbidden indicates the caller lacks the role required for the command.
	ErrTeamCartForbidden = errors.New("team cart service: forbidden")
	// ErrTeamCartInvalidState indicates the command is not allowed in the cart's current state.
	ErrTeamCartInvalidState = errors.New("team cart service: invalid state")
	// ErrTeamCartConflict indicates the cart kept changing underneath the command.
	ErrTeamCartConflict = errors.New("team cart service: conflict")
	// ErrTeamCartIntegrity indicates a reconciliation failure that needs operator attention.
	ErrTeamCartIntegrity = errors.New("team cart service: integrity violation")
	// ErrTeamCartPaymentFailed indicates the payment gateway rejected or failed the request.
	ErrTeamCartPaymentFailed = errors.New("team cart service: payment gateway failure")
	// ErrTeamCartUnavailable indicates a backing dependency is unavailable.
	ErrTeamCartUnavailable = errors.New("team cart service: unavailable")
)

// translateDomainError classifies a domain failure under a service sentinel while keeping the
// domain error reachable through errors.As for its code.
func translateDomainError(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *domain.Error
	if !errors.As(err, &domainErr) {
		return err
	}
	var sentinel error
	switch domainErr.Kind {
	case domain.KindValidation:
		sentinel = ErrTeamCartInvalidInput
	case domain.KindPermission:
		sentinel = ErrTeamCartForbidden
	case domain.KindNotFound:
		sentinel = ErrTeamCartNotFound
	case domain.KindIntegrity:
		sentinel = ErrTeamCartIntegrity
	default:
		sentinel = ErrTeamCartInvalidState
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

func translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrTeamCartNotFound
		case repoErr.IsConflict():
			return ErrTeamCartConflict
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrTeamCartUnavailable, err)
		}
	}
	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		return translateDomainError(err)
	}
	return fmt.Errorf("%w: %v", ErrTeamCartUnavailable, err)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}
