package cmd

import (
	"fmt"
	"os"

	"faceserver/processing"
	"faceserver/push"
	"faceserver/storage"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var processOpts struct {
	Bucket     string
	Video      string
	Collection string
}

var processCmd = &cobra.Command{
	Use:   "process-video",
	Short: "Annotate the recognized faces of a video stored in S3",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newAWSSession()
		if err != nil {
			return err
		}
		bar := progressbar.NewOptions64(-1,
			progressbar.OptionSetDescription("queued"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
		events, closeEvents := newEmitters(&progressEmitter{bar: bar})
		defer closeEvents()

		runner := processing.NewRunner(newPipeline(sess, newFaceService(sess)), events, 1)
		media := storage.MediaRef{Bucket: processOpts.Bucket, Key: processOpts.Video}
		job, err := runner.RunNow(cmd.Context(), media, processOpts.Collection)
		bar.Finish()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}
		fmt.Printf("Job %s: %d frames, %d annotated\n", job.ID, job.Frames, job.AnnotatedFrames)
		fmt.Println(job.OutputURL)
		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processOpts.Bucket, "bucket", "", "S3 bucket of the source video")
	processCmd.Flags().StringVar(&processOpts.Video, "video", "", "S3 key of the source video")
	processCmd.Flags().StringVar(&processOpts.Collection, "collection", "", "Face collection to search")
	for _, name := range []string{"bucket", "video", "collection"} {
		processCmd.MarkFlagRequired(name)
	}
	rootCmd.AddCommand(processCmd)
}

// progressEmitter shows job events on a progress bar
type progressEmitter struct {
	bar   *progressbar.ProgressBar
	state string
}

func (p *progressEmitter) Emit(e push.JobEvent) error {
	if e.State != p.state {
		p.state = e.State
		p.bar.Describe(e.State)
	}
	if e.TotalFrames > 0 && p.bar.GetMax64() != e.TotalFrames {
		p.bar.ChangeMax64(e.TotalFrames)
	}
	if e.Frame > 0 {
		return p.bar.Set64(e.Frame)
	}
	return nil
}
