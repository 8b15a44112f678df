package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload pending interviews now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Syncing pending interviews...")
		resp, err := client.post(cmd.Context(), "/sync", nil)
		if err != nil {
			return err
		}

		var result struct {
			Succeeded int `json:"succeeded"`
			Failed    int `json:"failed"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Failed > 0 {
			printWarning("Synced %d interview(s), %d failed", result.Succeeded, result.Failed)
			return nil
		}
		printSuccess("Synced %d interview(s)", result.Succeeded)
		return nil
	},
}

// --- pending ---

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List interviews waiting to be uploaded",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/pending")
		if err != nil {
			return err
		}

		var pending []struct {
			ID        string `json:"id"`
			SurveyID  string `json:"survey_id"`
			Status    string `json:"status"`
			UpdatedAt string `json:"updated_at"`
		}
		if err := decodeJSON(resp, &pending); err != nil {
			return err
		}

		if len(pending) == 0 {
			fmt.Println("No pending interviews.")
			return nil
		}

		for _, iv := range pending {
			fmt.Printf("%s  %s  %s  %s\n",
				colorize(colorCyan, iv.ID[:8]),
				iv.UpdatedAt,
				iv.Status,
				iv.SurveyID,
			)
		}
		return nil
	},
}

// --- survey ---

var surveyCmd = &cobra.Command{
	Use:   "survey <id>",
	Short: "Fetch a survey and cache it for offline use",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/surveys/"+args[0])
		if err != nil {
			return err
		}

		var sv any
		if err := decodeJSON(resp, &sv); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sv)
	},
}

// --- location ---

var locationCmd = &cobra.Command{
	Use:   "location --lat <lat> --lng <lng>",
	Short: "Push a position fix to the agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, _ := cmd.Flags().GetFloat64("lat")
		lng, _ := cmd.Flags().GetFloat64("lng")
		accuracy, _ := cmd.Flags().GetFloat64("accuracy")
		if lat < -90 || lat > 90 {
			return fmt.Errorf("latitude %v out of range", lat)
		}
		if lng < -180 || lng > 180 {
			return fmt.Errorf("longitude %v out of range", lng)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.put(cmd.Context(), "/location", map[string]any{
			"lat":      lat,
			"lng":      lng,
			"accuracy": accuracy,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Position %.5f, %.5f recorded", lat, lng)
		return nil
	},
}

func init() {
	locationCmd.Flags().Float64("lat", 0, "latitude in signed decimal degrees")
	locationCmd.Flags().Float64("lng", 0, "longitude in signed decimal degrees")
	locationCmd.Flags().Float64("accuracy", 0, "position accuracy in meters")
	locationCmd.MarkFlagRequired("lat")
	locationCmd.MarkFlagRequired("lng")
}

// --- clear ---

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all locally stored data",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes ALL local data, unsynced interviews included. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/data")
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Local storage cleared")
		return nil
	},
}

func init() {
	clearCmd.Flags().Bool("confirm", false, "confirm deleting all local data")
}

// --- connectivity hints ---

var onlineCmd = &cobra.Command{
	Use:   "online",
	Short: "Tell the agent connectivity is back (triggers a sync)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return notifyConnectivity(cmd, true)
	},
}

var offlineCmd = &cobra.Command{
	Use:   "offline",
	Short: "Tell the agent connectivity was lost",
	RunE: func(cmd *cobra.Command, args []string) error {
		return notifyConnectivity(cmd, false)
	},
}

func notifyConnectivity(cmd *cobra.Command, online bool) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.post(cmd.Context(), "/connectivity", map[string]any{"online": online})
	if err != nil {
		return err
	}

	var result map[string]any
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	if online {
		printSuccess("Agent notified: online")
	} else {
		printSuccess("Agent notified: offline")
	}
	return nil
}
