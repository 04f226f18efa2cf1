// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	kubernetesscheme "k8s.io/client-go/kubernetes/scheme"
	testclock "k8s.io/utils/clock/testing"
	fakeclient "sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/lsst-sqre/nublado-controller/pkg/apis/config"
	"github.com/lsst-sqre/nublado-controller/pkg/form"
	"github.com/lsst-sqre/nublado-controller/pkg/gafaelfawr"
	"github.com/lsst-sqre/nublado-controller/pkg/images/inventory"
	"github.com/lsst-sqre/nublado-controller/pkg/lab"
	"github.com/lsst-sqre/nublado-controller/pkg/lab/events"
	"github.com/lsst-sqre/nublado-controller/pkg/prepuller"
	"github.com/lsst-sqre/nublado-controller/pkg/server"
)

// fakeIdentity resolves the tokens of the test fixtures and refuses
// everything else, like the identity service would.
type fakeIdentity struct {
	tokens map[string]*gafaelfawr.TokenInfo
	users  map[string]*gafaelfawr.UserInfo
}

func (f *fakeIdentity) TokenInfo(_ context.Context, token string) (*gafaelfawr.TokenInfo, error) {
	if info, ok := f.tokens[token]; ok {
		return info, nil
	}
	return nil, &gafaelfawr.ForbiddenError{Status: http.StatusUnauthorized}
}

func (f *fakeIdentity) UserInfo(_ context.Context, token string) (*gafaelfawr.UserInfo, error) {
	if user, ok := f.users[token]; ok {
		return user, nil
	}
	return nil, &gafaelfawr.ForbiddenError{Status: http.StatusUnauthorized}
}

var _ = Describe("Server", func() {
	const (
		path       = "registry.hub.docker.com/lsstsqre/sciplat-lab"
		image      = path + ":w_2023_14"
		adminToken = "gt-admin"
		aliceToken = "gt-alice"

		formTemplate = `<select name="image_dropdown">{{ range .AllImages }}<option value="{{ .Path }}">{{ .Name }}</option>{{ end }}</select>
{{ range .Sizes }}<input type="radio" name="size" value="{{ .Name }}"> {{ .Name }} ({{ .CPU }} CPU, {{ .Memory }} RAM){{ end }}`
	)

	var (
		ctx        context.Context
		cfg        *config.ControllerConfiguration
		users      *lab.UserMap
		srv        *server.Server
		ts         *httptest.Server
		httpClient *http.Client
	)

	BeforeEach(func() {
		ctx = context.Background()

		cfg = &config.ControllerConfiguration{
			BaseURL:    "https://data.example.org/nublado",
			Server:     config.ServerConfiguration{BindAddress: "127.0.0.1", Port: 0},
			Kubernetes: config.KubernetesConfiguration{RequestTimeout: metav1.Duration{Duration: 5 * time.Second}},
			Lab: config.LabConfiguration{
				NamespacePrefix: "nublado",
				Sizes: map[string]config.LabSize{
					"small":  {CPU: resource.MustParse("1"), Memory: resource.MustParse("3Gi")},
					"medium": {CPU: resource.MustParse("2"), Memory: resource.MustParse("6Gi")},
				},
			},
			Prepuller: config.PrepullerConfiguration{Config: config.PrepullerConfig{
				RecommendedTag: "recommended",
				NumReleases:    1,
				NumWeeklies:    2,
				NumDailies:     3,
				AliasTags:      []string{"recommended"},
				Docker: &config.DockerSourceConfig{
					Registry:   "registry.hub.docker.com",
					Repository: "lsstsqre/sciplat-lab",
				},
				PollInterval: metav1.Duration{Duration: time.Minute},
				PullTimeout:  metav1.Duration{Duration: 5 * time.Minute},
			}},
			Form: config.FormConfiguration{Forms: map[string]string{"default": formTemplate}},
		}

		fakeClient := fakeclient.NewClientBuilder().WithScheme(kubernetesscheme.Scheme).
			WithObjects(
				&corev1.Node{
					ObjectMeta: metav1.ObjectMeta{Name: "n1"},
					Status: corev1.NodeStatus{Images: []corev1.ContainerImage{
						{Names: []string{path + "@sha256:rec", path + ":recommended"}, SizeBytes: 1 << 30},
						{Names: []string{path + "@sha256:w14", path + ":w_2023_14"}, SizeBytes: 1 << 30},
					}},
				},
				&corev1.Node{
					ObjectMeta: metav1.ObjectMeta{Name: "n2"},
					Status: corev1.NodeStatus{Images: []corev1.ContainerImage{
						{Names: []string{path + "@sha256:rec", path + ":recommended"}, SizeBytes: 1 << 30},
					}},
				},
			).
			Build()

		registry := prometheus.NewRegistry()
		broker := events.NewBroker()
		users = lab.NewUserMap()

		reconciler := &prepuller.Reconciler{
			Client:    fakeClient,
			Config:    &cfg.Prepuller.Config,
			Inventory: &inventory.Inventory{Client: fakeClient, Config: &cfg.Prepuller.Config},
			Clock:     testclock.NewFakeClock(time.Now()),
			Metrics:   prepuller.NewMetrics(registry),
			Namespace: "nublado",
		}
		manager := &lab.Manager{
			Client:    fakeClient,
			Config:    cfg,
			Events:    broker,
			Users:     users,
			Resolver:  reconciler,
			Metrics:   lab.NewMetrics(registry),
			Namespace: "nublado",
		}

		forms, err := form.New(cfg.Form.Forms, cfg.Lab.Sizes)
		Expect(err).NotTo(HaveOccurred())

		identity := &fakeIdentity{
			tokens: map[string]*gafaelfawr.TokenInfo{
				adminToken: {Username: "ops", Scopes: []string{gafaelfawr.ScopeAdmin, gafaelfawr.ScopeUser}},
				aliceToken: {Username: "alice", Scopes: []string{gafaelfawr.ScopeUser}},
			},
			users: map[string]*gafaelfawr.UserInfo{
				aliceToken: {Username: "alice", Name: "Alice", UID: 4510, GID: 4510, Groups: []gafaelfawr.UserGroup{{Name: "g_users", ID: 2001}}},
			},
		}

		srv = &server.Server{
			Config:    cfg,
			Identity:  identity,
			Labs:      manager,
			Users:     users,
			Events:    broker,
			Prepuller: reconciler,
			Forms:     forms,
			Metrics:   registry,
		}

		ts = httptest.NewServer(srv.Handler())
		DeferCleanup(ts.Close)

		// The create route answers with a redirect to the external base URL,
		// which must not be followed.
		httpClient = &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}}
	})

	doRequest := func(method, target, token string, body io.Reader) *http.Response {
		GinkgoHelper()

		request, err := http.NewRequestWithContext(ctx, method, ts.URL+target, body)
		Expect(err).NotTo(HaveOccurred())
		if token != "" {
			request.Header.Set("Authorization", "Bearer "+token)
		}

		response, err := httpClient.Do(request)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = response.Body.Close() })
		return response
	}

	readBody := func(response *http.Response) string {
		GinkgoHelper()

		body, err := io.ReadAll(response.Body)
		Expect(err).NotTo(HaveOccurred())
		return string(body)
	}

	specBody := func(options lab.UserOptions) io.Reader {
		GinkgoHelper()

		body, err := json.Marshal(&lab.LabSpecification{Options: options})
		Expect(err).NotTo(HaveOccurred())
		return bytes.NewReader(body)
	}

	createLab := func() {
		GinkgoHelper()

		response := doRequest(http.MethodPost, "/nublado/spawner/v1/labs/alice/create", aliceToken, specBody(lab.UserOptions{Image: image, Size: "small"}))
		Expect(response.StatusCode).To(Equal(http.StatusSeeOther))

		Eventually(func(g Gomega) {
			record, ok := users.Get("alice")
			g.Expect(ok).To(BeTrue())
			g.Expect(record.Status).To(Equal(lab.StatusRunning))
		}).WithTimeout(3 * time.Second).Should(Succeed())
	}

	Describe("authentication", func() {
		It("should refuse requests without a token", func() {
			response := doRequest(http.MethodGet, "/nublado/spawner/v1/labs", "", nil)

			Expect(response.StatusCode).To(Equal(http.StatusForbidden))
			Expect(readBody(response)).To(MatchJSON(`{"detail": "no authentication token provided"}`))
		})

		It("should refuse tokens the identity service does not know", func() {
			response := doRequest(http.MethodGet, "/nublado/spawner/v1/labs", "gt-bogus", nil)

			Expect(response.StatusCode).To(Equal(http.StatusForbidden))
		})

		It("should refuse tokens without the required scope", func() {
			response := doRequest(http.MethodGet, "/nublado/spawner/v1/labs", aliceToken, nil)

			Expect(response.StatusCode).To(Equal(http.StatusForbidden))
			Expect(readBody(response)).To(ContainSubstring("admin:jupyterlab"))
		})

		It("should accept the token from the X-Auth-Request-Token header", func() {
			request, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/nublado/spawner/v1/labs", nil)
			Expect(err).NotTo(HaveOccurred())
			request.Header.Set("X-Auth-Request-Token", adminToken)

			response, err := httpClient.Do(request)
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = response.Body.Close() }()

			Expect(response.StatusCode).To(Equal(http.StatusOK))
		})

		It("should refuse users acting on another user's lab", func() {
			response := doRequest(http.MethodPost, "/nublado/spawner/v1/labs/bob/create", aliceToken, strings.NewReader("{}"))

			Expect(response.StatusCode).To(Equal(http.StatusForbidden))
			Expect(readBody(response)).To(MatchJSON(`{"detail": "token does not belong to the requested user"}`))
		})
	})

	Describe("labs listing", func() {
		It("should return an empty list without labs", func() {
			response := doRequest(http.MethodGet, "/nublado/spawner/v1/labs", adminToken, nil)

			Expect(response.StatusCode).To(Equal(http.StatusOK))
			Expect(response.Header.Get("Content-Type")).To(Equal("application/json"))
			Expect(readBody(response)).To(MatchJSON(`[]`))
		})

		It("should list the users with labs", func() {
			createLab()

			response := doRequest(http.MethodGet, "/nublado/spawner/v1/labs", adminToken, nil)

			Expect(readBody(response)).To(MatchJSON(`["alice"]`))
		})
	})

	Describe("lab record", func() {
		It("should return 404 for users without a lab", func() {
			response := doRequest(http.MethodGet, "/nublado/spawner/v1/labs/alice", adminToken, nil)

			Expect(response.StatusCode).To(Equal(http.StatusNotFound))
			Expect(readBody(response)).To(MatchJSON(`{"detail": "no lab found for user \"alice\""}`))
		})

		It("should return the lab record", func() {
			createLab()

			response := doRequest(http.MethodGet, "/nublado/spawner/v1/labs/alice", adminToken, nil)
			Expect(response.StatusCode).To(Equal(http.StatusOK))

			record := &lab.UserRecord{}
			Expect(json.Unmarshal([]byte(readBody(response)), record)).To(Succeed())
			Expect(record.Username).To(Equal("alice"))
			Expect(record.Status).To(Equal(lab.StatusRunning))
			Expect(record.Options.Image).To(Equal(image))
		})
	})

	Describe("lab creation", func() {
		It("should create the lab and redirect to the record", func() {
			response := doRequest(http.MethodPost, "/nublado/spawner/v1/labs/alice/create", aliceToken, specBody(lab.UserOptions{Image: image, Size: "small"}))

			Expect(response.StatusCode).To(Equal(http.StatusSeeOther))
			Expect(response.Header.Get("Location")).To(Equal("https://data.example.org/nublado/spawner/v1/labs/alice"))

			Eventually(func(g Gomega) {
				record, ok := users.Get("alice")
				g.Expect(ok).To(BeTrue())
				g.Expect(record.Status).To(Equal(lab.StatusRunning))
			}).WithTimeout(3 * time.Second).Should(Succeed())
		})

		It("should refuse a second lab for the same user", func() {
			createLab()

			response := doRequest(http.MethodPost, "/nublado/spawner/v1/labs/alice/create", aliceToken, specBody(lab.UserOptions{Image: image, Size: "small"}))

			Expect(response.StatusCode).To(Equal(http.StatusConflict))
			Expect(readBody(response)).To(ContainSubstring("already exists"))
		})

		It("should refuse malformed specifications", func() {
			response := doRequest(http.MethodPost, "/nublado/spawner/v1/labs/alice/create", aliceToken, strings.NewReader("not json"))

			Expect(response.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(readBody(response)).To(ContainSubstring("invalid lab specification"))
		})

		It("should refuse unknown size labels", func() {
			response := doRequest(http.MethodPost, "/nublado/spawner/v1/labs/alice/create", aliceToken, specBody(lab.UserOptions{Image: image, Size: "gargantuan"}))

			Expect(response.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(readBody(response)).To(ContainSubstring("options.size"))
		})

		It("should refuse images outside the inventory", func() {
			response := doRequest(http.MethodPost, "/nublado/spawner/v1/labs/alice/create", aliceToken, specBody(lab.UserOptions{Image: path + ":w_2022_1", Size: "small"}))

			Expect(response.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(readBody(response)).To(ContainSubstring("not part of the inventory"))

			_, ok := users.Get("alice")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("lab deletion", func() {
		It("should return 404 for users without a lab", func() {
			response := doRequest(http.MethodDelete, "/nublado/spawner/v1/labs/alice", adminToken, nil)

			Expect(response.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should accept the deletion and remove the lab", func() {
			createLab()

			response := doRequest(http.MethodDelete, "/nublado/spawner/v1/labs/alice", adminToken, nil)
			Expect(response.StatusCode).To(Equal(http.StatusAccepted))

			Eventually(func(g Gomega) {
				_, ok := users.Get("alice")
				g.Expect(ok).To(BeFalse())
			}).WithTimeout(3 * time.Second).Should(Succeed())
		})
	})

	Describe("user status", func() {
		It("should return 404 when the token's user has no lab", func() {
			response := doRequest(http.MethodGet, "/nublado/spawner/v1/user-status", aliceToken, nil)

			Expect(response.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should return the record of the token's user", func() {
			createLab()

			response := doRequest(http.MethodGet, "/nublado/spawner/v1/user-status", aliceToken, nil)
			Expect(response.StatusCode).To(Equal(http.StatusOK))

			record := &lab.UserRecord{}
			Expect(json.Unmarshal([]byte(readBody(response)), record)).To(Succeed())
			Expect(record.Username).To(Equal("alice"))
		})
	})

	Describe("event stream", func() {
		It("should stream the creation events as server-sent events", func() {
			createLab()

			response := doRequest(http.MethodGet, "/nublado/spawner/v1/labs/alice/events", aliceToken, nil)
			Expect(response.StatusCode).To(Equal(http.StatusOK))
			Expect(response.Header.Get("Content-Type")).To(Equal("text/event-stream"))

			// The stream replays the buffered creation events and ends after
			// the terminal event, so the body can be read to EOF.
			body := readBody(response)
			Expect(body).To(ContainSubstring("event: info\ndata: {\"message\":\"Lab creation initiated\",\"progress\":2}\n\n"))
			Expect(body).To(ContainSubstring("event: complete\ndata: {\"message\":\"Lab is running\",\"progress\":100}\n\n"))
		})
	})

	Describe("images listing", func() {
		It("should return the menu and the full inventory", func() {
			response := doRequest(http.MethodGet, "/nublado/spawner/v1/images", adminToken, nil)
			Expect(response.StatusCode).To(Equal(http.StatusOK))

			list := &server.ImageList{}
			Expect(json.Unmarshal([]byte(readBody(response)), list)).To(Succeed())

			Expect(list.Menu).To(Equal([]server.DisplayImage{
				{Path: path + ":recommended", Name: "Recommended", Digest: "sha256:rec", Prepulled: true},
				{Path: path + ":w_2023_14", Name: "Weekly 2023_14", Digest: "sha256:w14", Prepulled: false},
			}))
			Expect(list.All).To(ConsistOf(
				server.DisplayImage{Path: path + ":recommended", Name: "Recommended", Digest: "sha256:rec", Prepulled: true},
				server.DisplayImage{Path: path + ":w_2023_14", Name: "Weekly 2023_14", Digest: "sha256:w14", Prepulled: false},
			))
		})
	})

	Describe("prepull status", func() {
		It("should report the prepull state of the desired menu", func() {
			response := doRequest(http.MethodGet, "/nublado/spawner/v1/prepulls", adminToken, nil)
			Expect(response.StatusCode).To(Equal(http.StatusOK))

			status := &prepuller.Status{}
			Expect(json.Unmarshal([]byte(readBody(response)), status)).To(Succeed())
			Expect(status.Config.RecommendedTag).To(Equal("recommended"))
			Expect(status.Images.Prepulled).To(HaveLen(1))
			Expect(status.Images.Pending).To(HaveLen(1))
			Expect(status.Nodes).To(HaveLen(2))
		})
	})

	Describe("spawner form", func() {
		It("should render the form of the token's user", func() {
			response := doRequest(http.MethodGet, "/nublado/spawner/v1/lab-form/alice", aliceToken, nil)
			Expect(response.StatusCode).To(Equal(http.StatusOK))
			Expect(response.Header.Get("Content-Type")).To(Equal("text/html; charset=utf-8"))

			body := readBody(response)
			Expect(body).To(ContainSubstring(`<option value="` + path + `:recommended">Recommended</option>`))
			Expect(body).To(ContainSubstring(`<option value="` + path + `:w_2023_14">Weekly 2023_14</option>`))
			Expect(body).To(ContainSubstring("Small (1 CPU, 3Gi RAM)"))
			Expect(body).To(ContainSubstring("Medium (2 CPU, 6Gi RAM)"))
		})
	})

	Describe("operational endpoints", func() {
		It("should expose the health probe without authentication", func() {
			response := doRequest(http.MethodGet, "/healthz", "", nil)

			Expect(response.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(response)).To(Equal("ok"))
		})

		It("should expose the controller metrics without authentication", func() {
			response := doRequest(http.MethodGet, "/metrics", "", nil)

			Expect(response.StatusCode).To(Equal(http.StatusOK))
			body := readBody(response)
			Expect(body).To(ContainSubstring("nublado_prepull_campaigns_total"))
			Expect(body).To(ContainSubstring("nublado_labs_running"))
		})
	})

	Describe("#Start", func() {
		It("should serve until the context ends and then shut down", func() {
			serveCtx, cancel := context.WithCancel(ctx)

			result := make(chan error, 1)
			go func() { result <- srv.Start(serveCtx) }()

			cancel()
			Eventually(result).WithTimeout(3 * time.Second).Should(Receive(BeNil()))
		})

		It("should fail for an unusable listen address", func() {
			cfg.Server.Port = -1

			Expect(srv.Start(ctx)).To(MatchError(ContainSubstring("failed running HTTP server")))
		})
	})
})
