package actions

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"petsoft/auth"
	"petsoft/db"
	"petsoft/metrics"
	"petsoft/models"
	"petsoft/payment"
	"petsoft/petstate"
	"petsoft/validation"
	"petsoft/viewcache"
)

type fakeUsers struct {
	users     map[string]models.User
	createErr error
}

func (f *fakeUsers) CreateUser(ctx context.Context, email, hash string) (models.User, error) {
	if f.createErr != nil {
		return models.User{}, f.createErr
	}
	u := models.User{ID: uuid.NewString(), Email: email, HashedPassword: hash}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeUsers) GetUserByID(ctx context.Context, id string) (models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return models.User{}, db.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) SetAccessByEmail(ctx context.Context, email string, hasAccess bool) error {
	for id, u := range f.users {
		if u.Email == email {
			u.HasAccess = hasAccess
			f.users[id] = u
			return nil
		}
	}
	return db.ErrNotFound
}

type fakePets struct {
	pets      map[string]models.Pet
	lists     int
	createErr error
	getErr    error
	updateErr error
	deleteErr error
}

func (f *fakePets) CreatePet(ctx context.Context, p *models.Pet) error {
	if f.createErr != nil {
		return f.createErr
	}
	p.ID = uuid.NewString()
	f.pets[p.ID] = *p
	return nil
}

func (f *fakePets) GetPetByID(ctx context.Context, id string) (models.Pet, error) {
	if f.getErr != nil {
		return models.Pet{}, f.getErr
	}
	p, ok := f.pets[id]
	if !ok {
		return models.Pet{}, db.ErrNotFound
	}
	return p, nil
}

func (f *fakePets) ListPetsByUser(ctx context.Context, userID string) ([]models.Pet, error) {
	f.lists++
	out := []models.Pet{}
	for _, p := range f.pets {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePets) UpdatePet(ctx context.Context, p *models.Pet) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.pets[p.ID] = *p
	return nil
}

func (f *fakePets) DeletePet(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.pets, id)
	return nil
}

type fakeAuth struct {
	user  models.User
	err   error
	calls int
}

func (f *fakeAuth) Authenticate(ctx context.Context, form url.Values) (models.User, error) {
	f.calls++
	return f.user, f.err
}

type fakeGateway struct {
	req payment.CheckoutRequest
	err error
}

func (f *fakeGateway) CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (string, error) {
	f.req = req
	if f.err != nil {
		return "", f.err
	}
	return "https://checkout.stripe.com/c/pay/cs_1", nil
}

type countingViews struct {
	*viewcache.Memory
	invalidations int
}

func (c *countingViews) Invalidate(ctx context.Context, userID string) error {
	c.invalidations++
	return c.Memory.Invalidate(ctx, userID)
}

type fixture struct {
	svc     *Service
	users   *fakeUsers
	pets    *fakePets
	auth    *fakeAuth
	gateway *fakeGateway
	views   *countingViews
	metrics *metrics.Metrics
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	f := &fixture{
		users:   &fakeUsers{users: map[string]models.User{}},
		pets:    &fakePets{pets: map[string]models.Pet{}},
		auth:    &fakeAuth{},
		gateway: &fakeGateway{},
		views:   &countingViews{Memory: viewcache.NewMemory(time.Minute)},
		metrics: metrics.New(),
		logs:    logs,
	}
	f.svc = New(Deps{
		Users:    f.users,
		Pets:     f.pets,
		Auth:     f.auth,
		Payments: f.gateway,
		Views:    f.views,
		Metrics:  f.metrics,
		Logger:   zap.New(core),
		Config: Config{
			BcryptCost:   bcrypt.MinCost,
			CanonicalURL: "https://pets.test",
			PriceID:      "price_123",
		},
	})
	return f
}

func signedIn(userID string) context.Context {
	return auth.WithSession(context.Background(), auth.Session{UserID: userID, Email: userID + "@x.com"})
}

func (f *fixture) seedPet(userID, name string) models.Pet {
	p := models.Pet{ID: uuid.NewString(), Name: name, OwnerName: "Ann", Age: 3, ImageURL: models.DefaultPetImage, UserID: userID}
	f.pets.pets[p.ID] = p
	return p
}

func validPet() validation.PetInput {
	return validation.PetInput{Name: "Rex", OwnerName: "Ann", Age: "3"}
}

func TestLoginWithoutFormData(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Login(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, MsgInvalidFormData, res.Message)
	assert.Equal(t, 0, f.auth.calls)
}

func TestLoginErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"bad credentials", &auth.Error{Type: auth.TypeCredentialsSignin}, MsgInvalidCredentials},
		{"other auth error", &auth.Error{Type: auth.TypeCallbackRoute, Err: errors.New("db down")}, MsgSignInFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.auth.err = tt.err

			res, err := f.svc.Login(context.Background(), url.Values{"email": {"a@x.com"}, "password": {"x"}})
			require.NoError(t, err)
			assert.Equal(t, tt.msg, res.Message)
			assert.Empty(t, res.Session.UserID)
		})
	}
}

func TestLoginPropagatesUnexpectedErrors(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	f.auth.err = boom

	_, err := f.svc.Login(context.Background(), url.Values{})
	assert.ErrorIs(t, err, boom)
}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)
	f.auth.user = models.User{ID: "u1", Email: "a@x.com", HasAccess: true}

	res, err := f.svc.Login(context.Background(), url.Values{"email": {"a@x.com"}, "password": {"x"}})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "/app/dashboard", res.Redirect)
	assert.Equal(t, auth.Session{UserID: "u1", Email: "a@x.com", HasAccess: true}, res.Session)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Actions.WithLabelValues("login", metrics.OutcomeOK)))
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "/", f.svc.Logout().Redirect)
}

func TestSignup(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Signup(context.Background(), url.Values{"email": {"a@x.com"}, "password": {"secret"}})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "/payment", res.Redirect)
	assert.False(t, res.Session.HasAccess)

	u := f.users.users[res.Session.UserID]
	assert.Equal(t, "a@x.com", u.Email)
	assert.True(t, auth.CheckPasswordHash("secret", u.HashedPassword))
}

func TestSignupRejections(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Signup(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, MsgInvalidFormData, res.Message)

	res, err = f.svc.Signup(context.Background(), url.Values{"email": {"nope"}, "password": {"x"}})
	require.NoError(t, err)
	assert.Equal(t, MsgInvalidFormData, res.Message)
	require.NotEmpty(t, res.Fields)
	assert.Equal(t, "email", res.Fields[0].Field)
	assert.Empty(t, f.users.users)
}

func TestSignupPersistenceErrors(t *testing.T) {
	f := newFixture(t)
	form := url.Values{"email": {"a@x.com"}, "password": {"x"}}

	f.users.createErr = db.ErrDuplicate
	res, err := f.svc.Signup(context.Background(), form)
	require.NoError(t, err)
	assert.Equal(t, MsgEmailExists, res.Message)

	f.users.createErr = errors.New("disk full")
	res, err = f.svc.Signup(context.Background(), form)
	require.NoError(t, err)
	assert.Equal(t, MsgSignUpFailed, res.Message)
	assert.Equal(t, 1, f.logs.FilterMessage("create user").Len())
}

func TestPetActionsRequireSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddPet(ctx, validPet())
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	_, err = f.svc.EditPet(ctx, uuid.NewString(), validPet())
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	_, err = f.svc.DeletePet(ctx, uuid.NewString())
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	_, err = f.svc.ListPets(ctx)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	_, err = f.svc.CreateCheckoutSession(ctx)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	assert.Empty(t, f.pets.pets)
}

func TestAddPet(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.AddPet(signedIn("u1"), validPet())
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "u1", res.Pet.UserID)
	assert.Equal(t, models.DefaultPetImage, res.Pet.ImageURL)
	assert.Equal(t, 3, res.Pet.Age)
	assert.Contains(t, f.pets.pets, res.Pet.ID)
	assert.Equal(t, 1, f.views.invalidations)
}

func TestAddPetInvalid(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.AddPet(signedIn("u1"), validation.PetInput{Name: "", OwnerName: "Ann", Age: "0"})
	require.NoError(t, err)
	assert.Equal(t, MsgInvalidPetData, res.Message)
	assert.Len(t, res.Fields, 2)
	assert.Empty(t, f.pets.pets)
	assert.Equal(t, 0, f.views.invalidations)
}

func TestAddPetPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	f.pets.createErr = errors.New("disk full")

	res, err := f.svc.AddPet(signedIn("u1"), validPet())
	require.NoError(t, err)
	assert.Equal(t, MsgAddPetFailed, res.Message)
	assert.Equal(t, 0, f.views.invalidations)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Actions.WithLabelValues("add_pet", metrics.OutcomeFailed)))
}

func TestEditPet(t *testing.T) {
	f := newFixture(t)
	p := f.seedPet("u1", "Rex")

	in := validPet()
	in.Name = "Max"
	res, err := f.svc.EditPet(signedIn("u1"), p.ID, in)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "Max", f.pets.pets[p.ID].Name)
	assert.Equal(t, "u1", f.pets.pets[p.ID].UserID)
	assert.Equal(t, 1, f.views.invalidations)
}

func TestEditPetRejections(t *testing.T) {
	f := newFixture(t)
	p := f.seedPet("owner", "Rex")

	res, err := f.svc.EditPet(signedIn("u1"), "not-a-uuid", validPet())
	require.NoError(t, err)
	assert.Equal(t, MsgInvalidPetData, res.Message)

	res, err = f.svc.EditPet(signedIn("u1"), p.ID, validation.PetInput{Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, MsgInvalidPetData, res.Message)

	res, err = f.svc.EditPet(signedIn("u1"), uuid.NewString(), validPet())
	require.NoError(t, err)
	assert.Equal(t, MsgPetNotFound, res.Message)

	res, err = f.svc.EditPet(signedIn("intruder"), p.ID, validPet())
	require.NoError(t, err)
	assert.Equal(t, MsgUnauthorized, res.Message)
	assert.Equal(t, "Rex", f.pets.pets[p.ID].Name)

	f.pets.updateErr = errors.New("locked")
	res, err = f.svc.EditPet(signedIn("owner"), p.ID, validPet())
	require.NoError(t, err)
	assert.Equal(t, MsgEditPetFailed, res.Message)

	assert.Equal(t, 0, f.views.invalidations)
}

func TestDeletePet(t *testing.T) {
	f := newFixture(t)
	p := f.seedPet("u1", "Rex")

	res, err := f.svc.DeletePet(signedIn("u1"), p.ID)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.NotContains(t, f.pets.pets, p.ID)
	assert.Equal(t, 1, f.views.invalidations)
}

func TestDeletePetRejections(t *testing.T) {
	f := newFixture(t)
	p := f.seedPet("owner", "Rex")

	res, err := f.svc.DeletePet(signedIn("u1"), "42")
	require.NoError(t, err)
	assert.Equal(t, MsgInvalidPetID, res.Message)

	res, err = f.svc.DeletePet(signedIn("u1"), uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, MsgPetNotFound, res.Message)

	res, err = f.svc.DeletePet(signedIn("intruder"), p.ID)
	require.NoError(t, err)
	assert.Equal(t, MsgUnauthorized, res.Message)
	assert.Contains(t, f.pets.pets, p.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Actions.WithLabelValues("delete_pet", metrics.OutcomeDenied)))

	f.pets.deleteErr = errors.New("locked")
	res, err = f.svc.DeletePet(signedIn("owner"), p.ID)
	require.NoError(t, err)
	assert.Equal(t, MsgDeletePetFailed, res.Message)

	f.pets.getErr = errors.New("timeout")
	res, err = f.svc.DeletePet(signedIn("owner"), p.ID)
	require.NoError(t, err)
	assert.Equal(t, MsgDeletePetFailed, res.Message)

	assert.Equal(t, 0, f.views.invalidations)
}

func TestListPetsUsesViewCache(t *testing.T) {
	f := newFixture(t)
	f.seedPet("u1", "Rex")
	f.seedPet("u2", "Tom")
	ctx := signedIn("u1")

	pets, err := f.svc.ListPets(ctx)
	require.NoError(t, err)
	require.Len(t, pets, 1)
	assert.Equal(t, "Rex", pets[0].Name)

	_, err = f.svc.ListPets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.pets.lists)

	_, err = f.svc.AddPet(ctx, validPet())
	require.NoError(t, err)
	pets, err = f.svc.ListPets(ctx)
	require.NoError(t, err)
	assert.Len(t, pets, 2)
	assert.Equal(t, 2, f.pets.lists)
}

func TestCreateCheckoutSession(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreateCheckoutSession(signedIn("u1"))
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_1", res.Redirect)
	assert.Equal(t, payment.CheckoutRequest{
		CustomerEmail: "u1@x.com",
		PriceID:       "price_123",
		SuccessURL:    "https://pets.test/payment?success=true",
		CancelURL:     "https://pets.test/payment?cancelled=true",
	}, f.gateway.req)
}

func TestCreateCheckoutSessionGatewayError(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("stripe down")
	f.gateway.err = boom

	_, err := f.svc.CreateCheckoutSession(signedIn("u1"))
	assert.ErrorIs(t, err, boom)
}

func TestGrantAndRefreshAccess(t *testing.T) {
	f := newFixture(t)
	signup, err := f.svc.Signup(context.Background(), url.Values{"email": {"a@x.com"}, "password": {"x"}})
	require.NoError(t, err)
	ctx := auth.WithSession(context.Background(), signup.Session)

	res, err := f.svc.RefreshAccess(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/payment", res.Redirect)
	assert.False(t, res.Session.HasAccess)

	require.NoError(t, f.svc.GrantAccess(context.Background(), "a@x.com"))

	res, err = f.svc.RefreshAccess(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/app/dashboard", res.Redirect)
	assert.True(t, res.Session.HasAccess)

	assert.ErrorIs(t, f.svc.GrantAccess(context.Background(), "nobody@x.com"), db.ErrNotFound)
}

func TestRefreshAccessUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RefreshAccess(signedIn("ghost"))
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestMutatorReportsFailures(t *testing.T) {
	f := newFixture(t)
	p := f.seedPet("owner", "Rex")
	m := f.svc.Mutator()
	ctx := signedIn("intruder")

	_, err := m.EditPet(ctx, p.ID, validPet())
	var failure *petstate.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, MsgUnauthorized, failure.Message)

	err = m.DeletePet(context.Background(), p.ID)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	added, err := m.AddPet(ctx, validPet())
	require.NoError(t, err)
	assert.Equal(t, "intruder", added.UserID)
}

func TestStoreOverRealDatabase(t *testing.T) {
	ctx := context.Background()
	store, err := db.Open(ctx, "sqlite3", ":memory:")
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Migrate(ctx))

	svc := New(Deps{
		Users:  store,
		Pets:   store,
		Auth:   auth.NewCredentials(store),
		Config: Config{BcryptCost: bcrypt.MinCost},
	})

	signup, err := svc.Signup(ctx, url.Values{"email": {"a@x.com"}, "password": {"secret"}})
	require.NoError(t, err)
	require.True(t, signup.OK())

	dup, err := svc.Signup(ctx, url.Values{"email": {"a@x.com"}, "password": {"other"}})
	require.NoError(t, err)
	assert.Equal(t, MsgEmailExists, dup.Message)

	login, err := svc.Login(ctx, url.Values{"email": {"a@x.com"}, "password": {"secret"}})
	require.NoError(t, err)
	assert.Equal(t, signup.Session.UserID, login.Session.UserID)

	bad, err := svc.Login(ctx, url.Values{"email": {"a@x.com"}, "password": {"wrong"}})
	require.NoError(t, err)
	assert.Equal(t, MsgInvalidCredentials, bad.Message)

	userCtx := auth.WithSession(ctx, login.Session)
	state := petstate.New(nil)
	require.NoError(t, state.AddPet(userCtx, svc.Mutator(), validPet()))
	pets, err := svc.ListPets(userCtx)
	require.NoError(t, err)
	require.Len(t, pets, 1)
	require.Len(t, state.Pets(), 1)
	assert.Equal(t, pets[0].ID, state.Pets()[0].ID)
	assert.Equal(t, "Rex", pets[0].Name)
}
