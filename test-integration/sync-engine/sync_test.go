package integration

import (
	"encoding/json"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/facilityops/accesscontrol-sync/internal/protocol"
	"github.com/facilityops/accesscontrol-sync/internal/records"
	"github.com/facilityops/accesscontrol-sync/internal/terminal/terminaltest"
	"github.com/facilityops/accesscontrol-sync/test-integration/sync-engine/helpers"
)

var _ = Describe("Sync Engine", Label("engine"), func() {
	var (
		tempDir    string
		configPath string
		lobby      *terminaltest.Terminal
		dock       *terminaltest.Terminal
		engine     *helpers.EngineTestHelper
	)

	decode := func(raw json.RawMessage, v any) {
		Expect(json.Unmarshal(raw, v)).To(Succeed())
	}

	syncStatus := func() protocol.SyncStatusData {
		resp := engine.Send("getSyncStatus", nil)
		Expect(resp.Status).To(Equal("success"))
		var data protocol.SyncStatusData
		decode(resp.Data, &data)
		return data
	}

	BeforeEach(func() {
		tempDir = createTempDir("sync-engine-")

		lobby = terminaltest.New(terminaltest.WithUsers(
			records.User{UID: 1, Name: "Ana"},
			records.User{UID: 99, Name: "Former Contractor"},
		))
		dock = terminaltest.New()

		devicesPath := helpers.WriteDevicesFile(tempDir,
			map[string]*terminaltest.Terminal{"lobby": lobby, "dock": dock}, "lobby", "dock")
		usersPath := helpers.WriteUsersFile(tempDir,
			records.User{UID: 1, Name: "Ana"},
			records.User{UID: 2, Name: "Bruno", Templates: []records.Template{{FingerIndex: 0, Data: []byte("tmpl")}}},
			records.User{UID: 3, Name: "Chidi", Card: 4242},
		)
		configPath = helpers.WriteConfigYAML(tempDir, devicesPath, usersPath)

		engine = helpers.NewEngineTestHelper(ctx, configPath)
		Expect(engine.Start()).To(Succeed())
	})

	AfterEach(func() {
		Expect(engine.Stop()).To(Succeed())
		lobby.Close()
		dock.Close()
		cleanupTempDir(tempDir)
	})

	Context("manual sync", func() {
		It("brings every terminal in line with the central records", func() {
			resp := engine.Send("manualSync", nil)
			Expect(resp.Status).To(Equal("success"))
			Expect(resp.Message).To(Equal("Synced 2 of 2 devices"))

			var run protocol.RunData
			decode(resp.Data, &run)
			Expect(run.Type).To(BeEquivalentTo("manual"))
			Expect(run.Result.DevicesSynced).To(Equal(2))

			for _, term := range []*terminaltest.Terminal{lobby, dock} {
				users := term.Users()
				Expect(users).To(HaveLen(3))
				Expect(users[0].Name).To(Equal("Ana"))
				Expect(users[2].Card).To(BeEquivalentTo(4242))
			}

			data := syncStatus()
			Expect(data.TotalSyncsPerformed).To(BeEquivalentTo(1))
			Expect(data.LastSyncTime).NotTo(BeNil())
			Expect(data.RecentSyncHistory).To(HaveLen(1))
			Expect(data.FailedDevices).To(BeEmpty())
		})

		It("does not rewrite terminals that are already in line", func() {
			Expect(engine.Send("manualSync", nil).Status).To(Equal("success"))
			writes := lobby.Writes()

			Expect(engine.Send("manualSync", nil).Status).To(Equal("success"))
			Expect(lobby.Writes()).To(Equal(writes))
		})

		It("reports a partial failure and marks the device unreachable after the threshold", func() {
			dock.SetUnavailable(true)

			for range 2 {
				resp := engine.Send("manualSync", nil)
				Expect(resp.Status).To(Equal("success"))
				var run protocol.RunData
				decode(resp.Data, &run)
				Expect(run.Result.Status).To(BeEquivalentTo("partial_failure"))
			}

			data := syncStatus()
			Expect(data.FailedDevices).To(Equal([]string{"dock"}))
			Expect(data.DeviceHealthStatus["dock"].Status).To(BeEquivalentTo("unreachable"))
			Expect(data.DeviceHealthStatus["dock"].ConsecutiveFailures).To(Equal(2))
			Expect(data.DeviceHealthStatus["lobby"].Status).To(BeEquivalentTo("healthy"))

			resp := engine.Send("resetFailedDevices", nil)
			Expect(resp.Status).To(Equal("success"))
			var reset protocol.ResetData
			decode(resp.Data, &reset)
			Expect(reset.ResetDevices).To(Equal([]string{"dock"}))

			Expect(syncStatus().FailedDevices).To(BeEmpty())
		})
	})

	Context("discovery", func() {
		It("separates accessible and failed terminals", func() {
			dock.SetUnavailable(true)

			resp := engine.Send("discoverDevices", nil)
			Expect(resp.Status).To(Equal("success"))
			Expect(resp.Message).To(Equal("Discovery completed: 1 accessible, 1 failed"))

			var data protocol.DiscoveryData
			decode(resp.Data, &data)
			Expect(data.AccessibleDevices).To(HaveLen(1))
			Expect(data.AccessibleDevices[0].ID).To(Equal("lobby"))
			Expect(data.AccessibleDevices[0].RecordCount).To(Equal(2))
			Expect(data.FailedDevices).To(HaveLen(1))
			Expect(data.FailedDevices[0].ID).To(Equal("dock"))
		})
	})

	Context("auto-sync", func() {
		It("runs on schedule and announces each scheduled run", func() {
			resp := engine.Send("startAutoSync", map[string]any{"interval_hours": 1})
			Expect(resp.Status).To(Equal("success"))
			Expect(resp.Message).To(Equal("Auto-sync started with 1 hour interval"))

			Eventually(engine.Clock().HasWaiters).Should(BeTrue())
			engine.Clock().Step(time.Hour)

			var ev helpers.Event
			Eventually(engine.Events(), 5*time.Second).Should(Receive(&ev))
			Expect(ev.EventType).To(Equal("scheduled_sync_completed"))
			Expect(dock.Users()).To(HaveLen(3))

			resp = engine.Send("stopAutoSync", nil)
			Expect(resp.Status).To(Equal("success"))
			Expect(syncStatus().AutoSyncEnabled).To(BeFalse())
		})

		It("rejects an interval outside 1 to 24 hours", func() {
			resp := engine.Send("startAutoSync", map[string]any{"interval_hours": 48})
			Expect(resp.Status).To(Equal("error"))
			Expect(resp.ErrorType).To(Equal("ValidationError"))
			Expect(syncStatus().AutoSyncEnabled).To(BeFalse())
		})

		It("keeps the policy and history across a restart", func() {
			Expect(engine.Send("startAutoSync", map[string]any{"interval_hours": 6}).Status).To(Equal("success"))
			Expect(engine.Send("manualSync", nil).Status).To(Equal("success"))
			Expect(engine.Stop()).To(Succeed())

			engine = helpers.NewEngineTestHelper(ctx, configPath)
			Expect(engine.Start()).To(Succeed())

			data := syncStatus()
			Expect(data.AutoSyncEnabled).To(BeTrue())
			Expect(data.SyncIntervalHours).To(Equal(6))
			Expect(data.TotalSyncsPerformed).To(BeEquivalentTo(1))
			Expect(data.RecentSyncHistory).To(HaveLen(1))
		})
	})

	Context("malformed commands", func() {
		It("answers with a validation error", func() {
			resp := engine.SendRaw([]byte(`{"command":"manualSync","request_id":"bad-1","interval_hours":"soon"}`), "bad-1")
			Expect(resp.Status).To(Equal("error"))
			Expect(resp.ErrorType).To(Equal("ValidationError"))

			resp = engine.Send("rebootEverything", nil)
			Expect(resp.Status).To(Equal("error"))
			Expect(resp.Message).To(Equal("Unknown command: rebootEverything"))
		})
	})

	Context("ops endpoints", func() {
		It("reports health and readiness", func() {
			Expect(engine.OpsGet("/health").Code).To(Equal(http.StatusOK))
			Expect(engine.OpsGet("/readiness").Code).To(Equal(http.StatusOK))
			Expect(engine.OpsGet("/version").Code).To(Equal(http.StatusOK))
		})
	})
})
